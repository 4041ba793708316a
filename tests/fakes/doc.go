// Package fakes provides test doubles for the cloud SDK client interfaces
// used by the credential stores and identity providers.
//
// Fakes are manually implemented (not generated) to provide precise control
// over test behavior. Each fake keeps its state in exported maps and lets a
// test override any call with an XxxFunc field.
//
// Usage:
//
//	fake := fakes.NewFakeSecretsManagerClient()
//	fake.AddSecretString("mcp/creds", `{"bearer_key":"k","bearer_token":"t"}`)
//	store, _ := credstore.NewSecretsManagerStore(nil, credstore.WithSecretsManagerClient(fake))
package fakes
