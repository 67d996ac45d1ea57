package scheduler

import (
	"context"

	"github.com/nfocore/optionengine/internal/models"
)

// BanListSource fetches the current F&O ban list (underlyings whose MWPL
// has breached the exchange threshold). The concrete feed/wire format is
// left undefined by the source specification, so this is an interface
// seam rather than a hard-coded broker call: production wiring supplies a
// real implementation; NoopBanListSource is the default when none is
// configured.
type BanListSource interface {
	FetchBanned(ctx context.Context) ([]models.Underlying, error)
}

// NoopBanListSource always reports an empty ban list. Using this is an
// explicit configuration choice, not a silent gap: the scheduler logs once
// at boot when it falls back to this default.
type NoopBanListSource struct{}

func (NoopBanListSource) FetchBanned(context.Context) ([]models.Underlying, error) {
	return nil, nil
}
