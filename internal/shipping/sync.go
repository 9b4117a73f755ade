package shipping

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"shipsync/internal/metrics"
	"shipsync/internal/model"
	"shipsync/internal/store"
	"shipsync/internal/token"
)

const (
	// SyncLockName serializes catalog syncs across processes.
	SyncLockName = "shipping_method_items_sync"
	// SyncLockTTL bounds how long a crashed sync can block the next one.
	SyncLockTTL = 60 * time.Second
	// SyncInterval is how often the background check considers a sync due.
	SyncInterval = 24 * time.Hour
	// TriggerTokenTTL is the lifetime of self-signed sync trigger tokens.
	TriggerTokenTTL = 5 * time.Minute
	// triggerTimeout keeps the fire-and-forget POST from blocking callers.
	triggerTimeout = 10 * time.Millisecond

	optSyncTimestamp = "shipping_sync_timestamp"
)

// CatalogAPI is the slice of the aggregator client the syncer uses.
type CatalogAPI interface {
	GetShippingMethods(ctx context.Context) (model.Catalog, error)
	GetPickupPoints(ctx context.Context, country, carrier, methodType string) ([]model.APIItem, error)
	GetCourierServices(ctx context.Context, country, carrier string) ([]model.APIItem, error)
}

// Syncer pulls the carrier catalogs into the local item cache.
type Syncer struct {
	Store  store.Store
	API    CatalogAPI
	Secret string
	// SyncURL is the absolute URL of our own sync endpoint, targeted by
	// TriggerAsync.
	SyncURL string
	HTTP    *http.Client

	Now func() time.Time
}

func NewSyncer(s store.Store, api CatalogAPI, secret, syncURL string) *Syncer {
	return &Syncer{Store: s, API: api, Secret: secret, SyncURL: syncURL, HTTP: &http.Client{Timeout: triggerTimeout}, Now: time.Now}
}

// SyncResult summarizes one catalog walk.
type SyncResult struct {
	Synced  int `json:"synced"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
	Items   int `json:"items"`
}

// SyncAll walks the remote catalog and replaces the cached item set for
// every (country, carrier, methodType) triple it names. Per-triple failures
// are logged and counted; the walk continues.
func (sy *Syncer) SyncAll(ctx context.Context) (SyncResult, error) {
	var res SyncResult
	catalog, err := sy.API.GetShippingMethods(ctx)
	if err != nil {
		metrics.SyncRuns.WithLabelValues("error").Inc()
		return res, err
	}
	for _, country := range catalog.Countries {
		for _, carrier := range country.Carriers {
			for _, group := range carrier.ShippingMethods {
				for _, types := range group {
					for _, methodType := range types {
						n, err := sy.syncTriple(ctx, country.CountryCode, carrier.CarrierCode, methodType)
						if err != nil {
							log.Printf("sync: %s/%s/%s: %v", country.CountryCode, carrier.CarrierCode, methodType, err)
							res.Failed++
							continue
						}
						if n < 0 {
							res.Skipped++
							continue
						}
						res.Synced++
						res.Items += n
					}
				}
			}
		}
	}
	metrics.SyncRuns.WithLabelValues("ok").Inc()
	metrics.CachedItems.Set(float64(res.Items))
	return res, nil
}

// syncTriple fetches one triple's items and replaces the cached set.
// Returns -1 when the response is empty and the cache is left untouched.
func (sy *Syncer) syncTriple(ctx context.Context, country, carrier, methodType string) (int, error) {
	var apiItems []model.APIItem
	var err error
	if methodType == model.MethodTypeCourier {
		apiItems, err = sy.API.GetCourierServices(ctx, country, carrier)
	} else {
		apiItems, err = sy.API.GetPickupPoints(ctx, country, carrier, methodType)
	}
	if err != nil {
		return 0, err
	}
	if len(apiItems) == 0 {
		return -1, nil
	}
	items := make([]model.MethodItem, 0, len(apiItems))
	for _, a := range apiItems {
		if a.ID == "" {
			continue
		}
		items = append(items, model.MethodItem{
			ID:            a.ID,
			Name:          a.Name,
			Type:          a.Type,
			MethodType:    methodType,
			StreetAddress: a.StreetAddress,
			Locality:      a.Locality,
			PostalCode:    a.PostalCode,
			CarrierCode:   carrier,
			CountryCode:   country,
		})
	}
	if len(items) == 0 {
		return -1, nil
	}
	if err := sy.Store.ReplaceItems(ctx, country, carrier, methodType, items); err != nil {
		return 0, err
	}
	return len(items), nil
}

// TriggerAsync fires a POST at our own sync endpoint with a short-lived
// signed token and does not wait for the sync to run. Timeouts are the
// expected outcome and are swallowed.
func (sy *Syncer) TriggerAsync(ctx context.Context) {
	tok, err := sy.TriggerToken()
	if err != nil {
		log.Printf("sync trigger: sign token: %v", err)
		return
	}
	body, _ := json.Marshal(map[string]string{"token": tok})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sy.SyncURL, bytes.NewReader(body))
	if err != nil {
		log.Printf("sync trigger: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := sy.HTTP.Do(req)
	if err != nil {
		return
	}
	_ = resp.Body.Close()
}

// TriggerToken signs a token binding the trigger to our own sync URL.
func (sy *Syncer) TriggerToken() (string, error) {
	return SignURLToken(sy.SyncURL, sy.Secret, sy.Now)
}

// VerifyTrigger checks an inbound trigger token's signature and URL binding.
func (sy *Syncer) VerifyTrigger(tok string) error {
	return VerifyURLToken(tok, sy.SyncURL, sy.Secret, sy.Now)
}

// SignURLToken mints a short-lived token bound to a route URL via an md5
// hash claim. Used for the sync and OTA trigger endpoints.
func SignURLToken(u, secret string, now func() time.Time) (string, error) {
	return token.Sign(token.Claims{"hash": urlHash(u)}, secret, TriggerTokenTTL, now)
}

// VerifyURLToken checks a trigger token's signature, expiry and URL binding.
func VerifyURLToken(tok, u, secret string, now func() time.Time) error {
	claims, err := token.Verify(tok, secret, token.DefaultLeeway, now)
	if err != nil {
		return err
	}
	if claims.String("hash") != urlHash(u) {
		return errors.New("trigger token bound to different URL")
	}
	return nil
}

func urlHash(u string) string {
	sum := md5.Sum([]byte(u))
	return hex.EncodeToString(sum[:])
}

// MaybeSync triggers an async sync when the cache is empty or the last sync
// is older than SyncInterval. The timestamp is stamped before the lock check
// so a burst of callers collapses to one trigger; the lock at the sync
// endpoint is the actual correctness guard.
func (sy *Syncer) MaybeSync(ctx context.Context) {
	now := sy.Now()
	populated, err := sy.Store.ItemsExist(ctx, "", "", "")
	if err != nil {
		log.Printf("sync: check cache: %v", err)
		return
	}
	if populated {
		last, err := sy.Store.GetOption(ctx, optSyncTimestamp)
		if err == nil {
			if ts, perr := strconv.ParseInt(last, 10, 64); perr == nil && now.Sub(time.Unix(ts, 0)) < SyncInterval {
				return
			}
		} else if !errors.Is(err, store.ErrNotFound) {
			log.Printf("sync: read timestamp: %v", err)
			return
		}
	}
	if err := sy.Store.SetOption(ctx, optSyncTimestamp, strconv.FormatInt(now.Unix(), 10)); err != nil {
		log.Printf("sync: stamp timestamp: %v", err)
		return
	}
	if locked, err := sy.Store.LockExists(ctx, SyncLockName); err != nil || locked {
		return
	}
	sy.TriggerAsync(ctx)
}

// Start runs the periodic MaybeSync check until ctx is done.
func (sy *Syncer) Start(ctx context.Context, every time.Duration) {
	go func() {
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				sy.MaybeSync(ctx)
			}
		}
	}()
}
