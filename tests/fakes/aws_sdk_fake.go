package fakes

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentcore"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	cognitotypes "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// FakeSecretsManagerClient is an in-memory Secrets Manager.
type FakeSecretsManagerClient struct {
	mu sync.Mutex

	// Secrets maps secret names to their current SecretString
	Secrets map[string]string
	// Descriptions records the description passed to CreateSecret
	Descriptions map[string]string
	// Errors maps secret names to errors returned by every call for that name
	Errors map[string]error
	// PutCalls counts PutSecretValue and CreateSecret calls
	PutCalls int

	GetSecretValueFunc func(ctx context.Context, params *secretsmanager.GetSecretValueInput) (*secretsmanager.GetSecretValueOutput, error)
	PutSecretValueFunc func(ctx context.Context, params *secretsmanager.PutSecretValueInput) (*secretsmanager.PutSecretValueOutput, error)
	ListSecretsFunc    func(ctx context.Context, params *secretsmanager.ListSecretsInput) (*secretsmanager.ListSecretsOutput, error)
}

// NewFakeSecretsManagerClient creates an empty fake.
func NewFakeSecretsManagerClient() *FakeSecretsManagerClient {
	return &FakeSecretsManagerClient{
		Secrets:      make(map[string]string),
		Descriptions: make(map[string]string),
		Errors:       make(map[string]error),
	}
}

// AddSecretString seeds a secret.
func (f *FakeSecretsManagerClient) AddSecretString(name, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Secrets[name] = value
}

// AddError makes every call for name fail with err.
func (f *FakeSecretsManagerClient) AddError(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errors[name] = err
}

// SecretString returns the stored value and whether it exists.
func (f *FakeSecretsManagerClient) SecretString(name string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.Secrets[name]
	return v, ok
}

func notFound(name string) error {
	return &types.ResourceNotFoundException{
		Message: aws.String(fmt.Sprintf("Secrets Manager can't find the specified secret: %s", name)),
	}
}

// GetSecretValue mocks the GetSecretValue operation
func (f *FakeSecretsManagerClient) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	if f.GetSecretValueFunc != nil {
		return f.GetSecretValueFunc(ctx, params)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.SecretId)
	if err, ok := f.Errors[name]; ok {
		return nil, err
	}
	value, ok := f.Secrets[name]
	if !ok {
		return nil, notFound(name)
	}
	return &secretsmanager.GetSecretValueOutput{
		Name:          params.SecretId,
		SecretString:  aws.String(value),
		VersionStages: []string{"AWSCURRENT"},
	}, nil
}

// DescribeSecret mocks the DescribeSecret operation
func (f *FakeSecretsManagerClient) DescribeSecret(ctx context.Context, params *secretsmanager.DescribeSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.SecretId)
	if err, ok := f.Errors[name]; ok {
		return nil, err
	}
	if _, ok := f.Secrets[name]; !ok {
		return nil, notFound(name)
	}
	return &secretsmanager.DescribeSecretOutput{Name: params.SecretId}, nil
}

// PutSecretValue mocks the PutSecretValue operation
func (f *FakeSecretsManagerClient) PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error) {
	if f.PutSecretValueFunc != nil {
		return f.PutSecretValueFunc(ctx, params)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.SecretId)
	if err, ok := f.Errors[name]; ok {
		return nil, err
	}
	if _, ok := f.Secrets[name]; !ok {
		return nil, notFound(name)
	}
	f.Secrets[name] = aws.ToString(params.SecretString)
	f.PutCalls++
	return &secretsmanager.PutSecretValueOutput{Name: params.SecretId}, nil
}

// CreateSecret mocks the CreateSecret operation
func (f *FakeSecretsManagerClient) CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.Name)
	if err, ok := f.Errors[name]; ok {
		return nil, err
	}
	if _, ok := f.Secrets[name]; ok {
		return nil, &types.ResourceExistsException{Message: aws.String("secret already exists")}
	}
	f.Secrets[name] = aws.ToString(params.SecretString)
	f.Descriptions[name] = aws.ToString(params.Description)
	f.PutCalls++
	return &secretsmanager.CreateSecretOutput{Name: params.Name}, nil
}

// ListSecrets mocks the ListSecrets operation
func (f *FakeSecretsManagerClient) ListSecrets(ctx context.Context, params *secretsmanager.ListSecretsInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretsOutput, error) {
	if f.ListSecretsFunc != nil {
		return f.ListSecretsFunc(ctx, params)
	}
	return &secretsmanager.ListSecretsOutput{SecretList: []types.SecretListEntry{}}, nil
}

// FakeSSMClient is an in-memory Parameter Store.
type FakeSSMClient struct {
	mu sync.Mutex

	// Parameters maps parameter names to values
	Parameters map[string]string
	// Types records the type of each written parameter
	Types map[string]ssmtypes.ParameterType
	// Errors maps parameter names to errors to return
	Errors map[string]error

	DescribeParametersFunc func(ctx context.Context, params *ssm.DescribeParametersInput) (*ssm.DescribeParametersOutput, error)
}

// NewFakeSSMClient creates an empty fake.
func NewFakeSSMClient() *FakeSSMClient {
	return &FakeSSMClient{
		Parameters: make(map[string]string),
		Types:      make(map[string]ssmtypes.ParameterType),
		Errors:     make(map[string]error),
	}
}

// AddParameter seeds a parameter.
func (f *FakeSSMClient) AddParameter(name, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Parameters[name] = value
}

// GetParameter mocks the GetParameter operation
func (f *FakeSSMClient) GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.Name)
	if err, ok := f.Errors[name]; ok {
		return nil, err
	}
	value, ok := f.Parameters[name]
	if !ok {
		return nil, &ssmtypes.ParameterNotFound{Message: aws.String("parameter not found: " + name)}
	}
	return &ssm.GetParameterOutput{
		Parameter: &ssmtypes.Parameter{
			Name:  params.Name,
			Value: aws.String(value),
			Type:  ssmtypes.ParameterTypeSecureString,
		},
	}, nil
}

// PutParameter mocks the PutParameter operation
func (f *FakeSSMClient) PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.Name)
	if err, ok := f.Errors[name]; ok {
		return nil, err
	}
	if _, exists := f.Parameters[name]; exists && !aws.ToBool(params.Overwrite) {
		return nil, &ssmtypes.ParameterAlreadyExists{Message: aws.String("parameter exists: " + name)}
	}
	f.Parameters[name] = aws.ToString(params.Value)
	f.Types[name] = params.Type
	return &ssm.PutParameterOutput{Version: 1}, nil
}

// DescribeParameters mocks the DescribeParameters operation
func (f *FakeSSMClient) DescribeParameters(ctx context.Context, params *ssm.DescribeParametersInput, optFns ...func(*ssm.Options)) (*ssm.DescribeParametersOutput, error) {
	if f.DescribeParametersFunc != nil {
		return f.DescribeParametersFunc(ctx, params)
	}
	return &ssm.DescribeParametersOutput{}, nil
}

// FakeCognitoClient answers InitiateAuth from a username/password table.
type FakeCognitoClient struct {
	mu sync.Mutex

	// Users maps usernames to passwords
	Users map[string]string
	// AccessToken is returned on success
	AccessToken string
	// Calls records every InitiateAuth input
	Calls []*cognitoidentityprovider.InitiateAuthInput

	InitiateAuthFunc func(ctx context.Context, params *cognitoidentityprovider.InitiateAuthInput) (*cognitoidentityprovider.InitiateAuthOutput, error)
}

// InitiateAuth mocks the USER_PASSWORD_AUTH flow
func (f *FakeCognitoClient) InitiateAuth(ctx context.Context, params *cognitoidentityprovider.InitiateAuthInput, optFns ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.InitiateAuthOutput, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, params)
	f.mu.Unlock()

	if f.InitiateAuthFunc != nil {
		return f.InitiateAuthFunc(ctx, params)
	}

	username := params.AuthParameters["USERNAME"]
	password, ok := f.Users[username]
	if !ok || password != params.AuthParameters["PASSWORD"] {
		return nil, &cognitotypes.NotAuthorizedException{Message: aws.String("Incorrect username or password.")}
	}
	return &cognitoidentityprovider.InitiateAuthOutput{
		AuthenticationResult: &cognitotypes.AuthenticationResultType{
			AccessToken: aws.String(f.AccessToken),
			TokenType:   aws.String("Bearer"),
			ExpiresIn:   3600,
		},
	}, nil
}

// CallCount returns the number of InitiateAuth calls.
func (f *FakeCognitoClient) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Calls)
}

// FakeAgentCoreClient answers GetResourceOauth2Token.
type FakeAgentCoreClient struct {
	mu sync.Mutex

	// AccessToken is returned on success
	AccessToken string
	// Err, when set, is returned instead
	Err error
	// Calls records every input
	Calls []*bedrockagentcore.GetResourceOauth2TokenInput
}

// GetResourceOauth2Token mocks the M2M token exchange
func (f *FakeAgentCoreClient) GetResourceOauth2Token(ctx context.Context, params *bedrockagentcore.GetResourceOauth2TokenInput, optFns ...func(*bedrockagentcore.Options)) (*bedrockagentcore.GetResourceOauth2TokenOutput, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, params)
	f.mu.Unlock()

	if f.Err != nil {
		return nil, f.Err
	}
	return &bedrockagentcore.GetResourceOauth2TokenOutput{
		AccessToken: aws.String(f.AccessToken),
	}, nil
}

// CallCount returns the number of exchange calls.
func (f *FakeAgentCoreClient) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Calls)
}

// FakeSTSClient answers GetCallerIdentity.
type FakeSTSClient struct {
	Account string
	Arn     string
	Err     error
}

// GetCallerIdentity mocks the GetCallerIdentity operation
func (f *FakeSTSClient) GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return &sts.GetCallerIdentityOutput{
		Account: aws.String(f.Account),
		Arn:     aws.String(f.Arn),
		UserId:  aws.String("AIDAFAKE"),
	}, nil
}
