// Package auth guards the HTTP API with static API keys. Each key belongs to
// a named client and grants a fixed set of roles.
package auth

import (
	"context"
	"crypto/sha256"
	"fmt"
	"slices"
	"strings"
)

const (
	// RoleAsker may post questions to /v1/answer.
	RoleAsker = "asker"
	// RoleSchemaReader may read /v1/schema.
	RoleSchemaReader = "schema_reader"
)

var knownRoles = []string{RoleAsker, RoleSchemaReader}

type Identity struct {
	Client string
	Roles  []string
}

func (i Identity) HasRole(role string) bool {
	return slices.Contains(i.Roles, role)
}

type APIKeyValidator interface {
	Validate(ctx context.Context, apiKey string) (Identity, bool)
}

// StaticAPIKeyValidator only keeps digests of the configured keys.
type StaticAPIKeyValidator struct {
	keys map[[sha256.Size]byte]Identity
}

// NewStaticAPIKeyValidator parses comma separated key:client:role|role
// entries, as found in ASKDB_AUTH_STATIC_KEYS.
func NewStaticAPIKeyValidator(spec string) (*StaticAPIKeyValidator, error) {
	validator := &StaticAPIKeyValidator{keys: map[[sha256.Size]byte]Identity{}}
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		key, identity, err := parseEntry(entry)
		if err != nil {
			return nil, err
		}
		digest := sha256.Sum256([]byte(key))
		if _, exists := validator.keys[digest]; exists {
			return nil, fmt.Errorf("invalid static key entry for client %q: duplicate key", identity.Client)
		}
		validator.keys[digest] = identity
	}
	return validator, nil
}

// parseEntry never echoes the key itself in its errors.
func parseEntry(entry string) (string, Identity, error) {
	parts := strings.Split(entry, ":")
	if len(parts) != 3 {
		return "", Identity{}, fmt.Errorf("invalid static key entry: expected key:client:role|role, got %d fields", len(parts))
	}
	key := strings.TrimSpace(parts[0])
	client := strings.TrimSpace(parts[1])
	if key == "" || client == "" {
		return "", Identity{}, fmt.Errorf("invalid static key entry for client %q: empty key/client", client)
	}

	var roles []string
	for _, role := range strings.Split(parts[2], "|") {
		role = strings.ToLower(strings.TrimSpace(role))
		if role == "" || slices.Contains(roles, role) {
			continue
		}
		if !slices.Contains(knownRoles, role) {
			return "", Identity{}, fmt.Errorf("invalid static key entry for client %q: unknown role %q (want one of %s)",
				client, role, strings.Join(knownRoles, ", "))
		}
		roles = append(roles, role)
	}
	if len(roles) == 0 {
		return "", Identity{}, fmt.Errorf("invalid static key entry for client %q: at least one role is required", client)
	}
	slices.Sort(roles)
	return key, Identity{Client: client, Roles: roles}, nil
}

func (v *StaticAPIKeyValidator) Validate(_ context.Context, apiKey string) (Identity, bool) {
	identity, ok := v.keys[sha256.Sum256([]byte(apiKey))]
	return identity, ok
}

func (v *StaticAPIKeyValidator) Len() int {
	return len(v.keys)
}
