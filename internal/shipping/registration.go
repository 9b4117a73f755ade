package shipping

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"

	"shipsync/internal/model"
	"shipsync/internal/store"
)

const optWebhookRegHash = "shipping_webhook_registration"

// enabledEvents is what we ask the aggregator to deliver.
var enabledEvents = []string{
	EventShipmentRegistered,
	EventShipmentRegistrationFailed,
	EventLabelFileReady,
}

// Registrar keeps our webhook callback registered with the aggregator.
type Registrar struct {
	Store store.Store
	API   API
	// AccessKey and CallbackURL key the stored registration hash, so key
	// rotation or a URL change forces re-registration.
	AccessKey   string
	CallbackURL string
}

func NewRegistrar(s store.Store, api API, accessKey, callbackURL string) *Registrar {
	return &Registrar{Store: s, API: api, AccessKey: accessKey, CallbackURL: callbackURL}
}

func (r *Registrar) regHash() string {
	sum := md5.Sum([]byte(r.AccessKey + r.CallbackURL))
	return hex.EncodeToString(sum[:])
}

// EnsureRegistered registers our callback URL with the aggregator unless a
// stored hash says the current key/URL pair is already registered. force
// skips the hash shortcut and re-checks against the remote registry.
func (r *Registrar) EnsureRegistered(ctx context.Context, force bool) error {
	hash := r.regHash()
	if !force {
		if stored, err := r.Store.GetOption(ctx, optWebhookRegHash); err == nil && stored == hash {
			return nil
		} else if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}
	existing, err := r.API.ListWebhooks(ctx)
	if err != nil {
		return fmt.Errorf("list webhooks: %w", err)
	}
	found := false
	for _, wh := range existing {
		if wh.URL == r.CallbackURL {
			found = true
			break
		}
	}
	if !found {
		_, err := r.API.RegisterWebhook(ctx, model.RegisteredWebhook{URL: r.CallbackURL, EnabledEvents: enabledEvents})
		if err != nil {
			return fmt.Errorf("register webhook: %w", err)
		}
	}
	return r.Store.SetOption(ctx, optWebhookRegHash, hash)
}
