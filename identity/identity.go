// Package identity derives the effective tenant identifier used to key all
// backend session and status lookups. The identifier is either the base
// organization id alone, or organization id + device id when multi-device
// mode (or a detected device conflict) is active.
package identity

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/Zrodkin/CharityPad123-sub001/credstore"
)

const (
	deviceIDKey       = "identity.device_id"
	deviceOverrideKey = "identity.device_override"

	deviceSeparator = "_device_"
)

// Resolver owns the device id and the effective-identifier derivation.
// The effective identifier format must stay stable for the lifetime of a
// session; switching modes requires a full logout first, which clears the
// stored override.
type Resolver struct {
	store       credstore.Store
	baseOrgID   string
	multiDevice bool
}

func NewResolver(store credstore.Store, baseOrgID string, multiDevice bool) (*Resolver, error) {
	if store == nil {
		return nil, errors.New("[NewResolver] store is required")
	}
	if baseOrgID == "" {
		return nil, errors.New("[NewResolver] baseOrgID is required")
	}
	return &Resolver{
		store:       store,
		baseOrgID:   baseOrgID,
		multiDevice: multiDevice,
	}, nil
}

func (r *Resolver) BaseOrgID() string {
	return r.baseOrgID
}

// DeviceID returns the stable per-install device id, minting and persisting
// one on first use.
func (r *Resolver) DeviceID(ctx context.Context) (string, error) {
	stored, err := r.store.Get(ctx, deviceIDKey)
	if err == nil {
		return string(stored), nil
	}
	if !errors.Is(err, credstore.ErrNotFound) {
		return "", errors.Wrap(err, "[Resolver.DeviceID] store.Get")
	}

	deviceID := uuid.New().String()
	if err := r.store.Set(ctx, deviceIDKey, []byte(deviceID)); err != nil {
		return "", errors.Wrap(err, "[Resolver.DeviceID] store.Set")
	}
	return deviceID, nil
}

// EffectiveID returns the identifier sent to the backend: baseOrgID alone
// unless multi-device mode or a stored conflict override is active.
func (r *Resolver) EffectiveID(ctx context.Context) (string, error) {
	scoped := r.multiDevice
	if !scoped {
		overridden, err := r.overrideActive(ctx)
		if err != nil {
			return "", err
		}
		scoped = overridden
	}

	if !scoped {
		return r.baseOrgID, nil
	}

	deviceID, err := r.DeviceID(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%s%s", r.baseOrgID, deviceSeparator, deviceID), nil
}

// SetConflictOverride marks this install as device-scoped after the backend
// reported another active device on the same organization. The override
// persists until logout so the identifier stays stable for the session.
func (r *Resolver) SetConflictOverride(ctx context.Context) error {
	if err := r.store.Set(ctx, deviceOverrideKey, []byte("1")); err != nil {
		return errors.Wrap(err, "[Resolver.SetConflictOverride] store.Set")
	}
	return nil
}

// ClearOverride removes the conflict override. Called by logout only.
func (r *Resolver) ClearOverride(ctx context.Context) error {
	if err := r.store.Delete(ctx, deviceOverrideKey); err != nil {
		return errors.Wrap(err, "[Resolver.ClearOverride] store.Delete")
	}
	return nil
}

func (r *Resolver) overrideActive(ctx context.Context) (bool, error) {
	_, err := r.store.Get(ctx, deviceOverrideKey)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, credstore.ErrNotFound) {
		return false, nil
	}
	return false, errors.Wrap(err, "[Resolver.overrideActive] store.Get")
}
