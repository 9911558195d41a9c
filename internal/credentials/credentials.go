package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/crossposter/crossposter/internal/platform"
	"github.com/crossposter/crossposter/internal/secrets"
	"github.com/crossposter/crossposter/internal/store"
)

var ErrNotConnected = errors.New("platform not connected")

// Bundle is the per-platform credential document. Which fields apply
// depends on the platform.
type Bundle struct {
	AccessToken  string `json:"access_token,omitempty"`
	AccessSecret string `json:"access_secret,omitempty"`
	Organization string `json:"organization,omitempty"`
	Identifier   string `json:"identifier,omitempty"`
	Password     string `json:"password,omitempty"`
}

type ValidationError struct {
	Platform platform.Platform
	Field    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s credentials require %s", e.Platform, e.Field)
}

func (b Bundle) Validate(p platform.Platform) error {
	switch p {
	case platform.Twitter, platform.LinkedIn:
		if strings.TrimSpace(b.AccessToken) == "" {
			return &ValidationError{Platform: p, Field: "access_token"}
		}
	case platform.Bluesky:
		if strings.TrimSpace(b.Identifier) == "" {
			return &ValidationError{Platform: p, Field: "identifier"}
		}
		if b.Password == "" {
			return &ValidationError{Platform: p, Field: "password"}
		}
	default:
		return fmt.Errorf("unknown platform %q", p)
	}
	return nil
}

// Service keeps credential bundles sealed at rest.
type Service struct {
	store  store.Store
	sealer *secrets.Sealer
}

func NewService(store store.Store, sealer *secrets.Sealer) *Service {
	return &Service{store: store, sealer: sealer}
}

func associatedData(email string, p platform.Platform) string {
	return strings.ToLower(email) + "/" + string(p)
}

func (s *Service) Save(ctx context.Context, email string, p platform.Platform, bundle Bundle) error {
	if err := bundle.Validate(p); err != nil {
		return err
	}
	plain, err := json.Marshal(bundle)
	if err != nil {
		return err
	}
	sealed, err := s.sealer.Seal(plain, associatedData(email, p))
	if err != nil {
		return fmt.Errorf("seal %s credentials: %w", p, err)
	}
	if _, err := s.store.UpsertUser(ctx, email); err != nil {
		return err
	}
	return s.store.UpsertCredential(ctx, store.Credential{
		UserEmail: email,
		Platform:  string(p),
		Secret:    sealed,
	})
}

func (s *Service) Load(ctx context.Context, email string, p platform.Platform) (Bundle, error) {
	credential, err := s.store.GetCredential(ctx, email, string(p))
	if err != nil {
		return Bundle{}, err
	}
	if credential == nil {
		return Bundle{}, fmt.Errorf("%s: %w", p, ErrNotConnected)
	}
	plain, err := s.sealer.Open(credential.Secret, associatedData(email, p))
	if err != nil {
		return Bundle{}, fmt.Errorf("open %s credentials: %w", p, err)
	}
	var bundle Bundle
	if err := json.Unmarshal(plain, &bundle); err != nil {
		return Bundle{}, fmt.Errorf("decode %s credentials: %w", p, err)
	}
	return bundle, nil
}

func (s *Service) Delete(ctx context.Context, email string, p platform.Platform) error {
	return s.store.DeleteCredential(ctx, email, string(p))
}

// Connected reports, for every supported platform, whether the user has saved credentials.
func (s *Service) Connected(ctx context.Context, email string) (map[platform.Platform]bool, error) {
	saved, err := s.store.ListCredentialPlatforms(ctx, email)
	if err != nil {
		return nil, err
	}
	connected := make(map[platform.Platform]bool, len(platform.All))
	for _, p := range platform.All {
		connected[p] = false
	}
	for _, name := range saved {
		if p, err := platform.Parse(name); err == nil {
			connected[p] = true
		}
	}
	return connected, nil
}
