// Package secret resolves credentials (bot token, responder API key) by name.
// Secrets live in age-encrypted files next to the deployment, with an
// environment variable fallback for local development.
package secret

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
	"filippo.io/age/armor"
)

// ErrSecretNotFound is returned when no resolver knows the secret.
var ErrSecretNotFound = errors.New("secret not found")

// Resolver повертає відкритий текст секрету за його ім'ям.
type Resolver interface {
	Resolve(ctx context.Context, name string) (string, error)
}

// AgeResolver decrypts "<Dir>/<name>.age" with the configured identities.
type AgeResolver struct {
	Dir        string
	identities []age.Identity
}

// NewAgeResolver loads identities from an age identity file (as produced by
// age-keygen) and/or derives a scrypt identity from a passphrase.
func NewAgeResolver(dir, identityFile, passphrase string) (*AgeResolver, error) {
	r := &AgeResolver{Dir: dir}

	if identityFile != "" {
		f, err := os.Open(identityFile)
		if err != nil {
			return nil, fmt.Errorf("opening identity file: %w", err)
		}
		defer f.Close()

		ids, err := age.ParseIdentities(f)
		if err != nil {
			return nil, fmt.Errorf("parsing identity file: %w", err)
		}
		r.identities = append(r.identities, ids...)
	}

	if passphrase != "" {
		id, err := age.NewScryptIdentity(passphrase)
		if err != nil {
			return nil, fmt.Errorf("creating passphrase identity: %w", err)
		}
		r.identities = append(r.identities, id)
	}

	if len(r.identities) == 0 {
		return nil, errors.New("age resolver needs an identity file or a passphrase")
	}
	return r, nil
}

// Resolve decrypts the named secret. Surrounding whitespace is trimmed.
func (r *AgeResolver) Resolve(_ context.Context, name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("invalid secret name %q", name)
	}

	data, err := os.ReadFile(filepath.Join(r.Dir, name+".age"))
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	if err != nil {
		return "", fmt.Errorf("reading secret %s: %w", name, err)
	}

	var src io.Reader = bytes.NewReader(data)
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte(armor.Header)) {
		src = armor.NewReader(bytes.NewReader(data))
	}

	plain, err := age.Decrypt(src, r.identities...)
	if err != nil {
		return "", fmt.Errorf("decrypting secret %s: %w", name, err)
	}
	out, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("reading decrypted secret %s: %w", name, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// EnvResolver reads SECRET_<NAME> from the environment, NAME upper-cased
// with dashes and dots replaced by underscores.
type EnvResolver struct {
	lookup func(string) (string, bool)
}

func NewEnvResolver() *EnvResolver {
	return &EnvResolver{lookup: os.LookupEnv}
}

// EnvKey returns the variable consulted for name.
func EnvKey(name string) string {
	return "SECRET_" + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name))
}

func (r *EnvResolver) Resolve(_ context.Context, name string) (string, error) {
	if v, ok := r.lookup(EnvKey(name)); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v), nil
	}
	return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
}

// Chain tries resolvers in order and returns the first hit. Errors other
// than ErrSecretNotFound stop the chain.
type Chain []Resolver

func (c Chain) Resolve(ctx context.Context, name string) (string, error) {
	for _, r := range c {
		v, err := r.Resolve(ctx, name)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, ErrSecretNotFound) {
			return "", err
		}
	}
	return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
}
