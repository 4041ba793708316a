// Package secure keeps exchange credentials (passwords, client secrets)
// out of ordinary heap memory between uses.
//
// Values are sealed in a memguard enclave: encrypted at rest in memory and
// protected from swapping via mlock where the platform allows. A credential
// is decrypted only for the duration of a callback:
//
//	pw := secure.NewCredential(cfg.Password)
//	err := pw.Use(func(plain string) error {
//	    return exchange(plain)
//	})
//
// Call memguard.Purge (via secure.Purge) at process exit to wipe remaining
// enclaves.
//
// It does NOT protect against an attacker with access to the running
// process.
package secure
