package provider

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/trafegodns/trafegodns/internal/types"
)

// EnsureSerial is the per-record BatchEnsureRecords implementation shared by
// adapters without a native batch. For each desired row it consults the
// adapter's cache, classifies it as create/update/noop, and issues the call.
//
// A create that fails with ErrRecordExists refreshes the cache and
// reclassifies the row; an update target that vanished (ErrNotFound) is
// reclassified as a create. An auth or quota failure aborts the loop: the
// remaining rows fail without reaching the provider.
func EnsureSerial(ctx context.Context, a Adapter, desired []types.DesiredRecord) []EnsureResult {
	results := make([]EnsureResult, 0, len(desired))
	caps := a.Info()

	for i, d := range desired {
		result := ensureOne(ctx, a, caps, d, true)
		results = append(results, result)

		if IsAuth(result.Err) || IsQuota(result.Err) {
			log.Warn().Err(result.Err).
				Str("provider", a.Name()).
				Int("remaining", len(desired)-i-1).
				Msg("Aborting ensure loop")
			skipped := fmt.Errorf("aborted after earlier failure: %w", result.Err)
			for _, rest := range desired[i+1:] {
				results = append(results, EnsureResult{Desired: rest, Action: ActionFailed, Err: skipped})
			}
			break
		}
	}
	return results
}

func ensureOne(ctx context.Context, a Adapter, caps Capabilities, d types.DesiredRecord, allowRetry bool) EnsureResult {
	if !caps.Supports(d.Type) {
		return EnsureResult{Desired: d, Action: ActionFailed, Err: WrapOp(a.Name(), "ensure", ErrUnsupportedType)}
	}
	if !types.InZone(d.Name, a.Zone()) {
		return EnsureResult{Desired: d, Action: ActionFailed, Err: ErrOutOfZone}
	}

	d = SanitizeForProvider(d, caps)

	existing, found := a.Cache().Find(d.Type, d.Name)
	if found && RecordsEqual(existing, d.Record, caps) {
		return EnsureResult{Desired: d, Action: ActionUnchanged, Record: existing}
	}

	if found {
		updated, err := a.UpdateRecord(ctx, existing.ExternalID, d)
		if err != nil {
			if IsNotFound(err) && allowRetry {
				// Target vanished between refresh and update: recreate.
				a.Cache().Remove(existing)
				return ensureOne(ctx, a, caps, d, false)
			}
			return EnsureResult{Desired: d, Action: ActionFailed, Err: err}
		}
		return EnsureResult{Desired: d, Action: ActionUpdated, Record: updated}
	}

	created, err := a.CreateRecord(ctx, d)
	if err != nil {
		if IsRecordExists(err) && allowRetry {
			// Duplicate present but missing from the cache: refresh and
			// reclassify, which normally turns the row into noop or update.
			if _, rerr := a.Cache().Refresh(ctx); rerr != nil {
				log.Warn().Err(rerr).Str("provider", a.Name()).Msg("Cache refresh after duplicate create failed")
				return EnsureResult{Desired: d, Action: ActionFailed, Err: err}
			}
			return ensureOne(ctx, a, caps, d, false)
		}
		return EnsureResult{Desired: d, Action: ActionFailed, Err: err}
	}
	return EnsureResult{Desired: d, Action: ActionCreated, Record: created}
}
