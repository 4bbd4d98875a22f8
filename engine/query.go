package engine

import (
	"context"
	"sort"

	"github.com/decloud-network/validator/types"
)

// RoundView is a round enriched with local state.
type RoundView struct {
	types.Round
	DatasetDownloaded bool `json:"dataset_downloaded"`
	Owned             bool `json:"owned"`
}

type Summary struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// GetAllRounds returns every round on the ledger, newest first.
func (e *Engine) GetAllRounds(ctx context.Context) ([]RoundView, error) {
	rounds, err := e.client.GetAllRounds(ctx)
	if err != nil {
		return nil, err
	}
	me := e.signer.PublicKey()
	views := make([]RoundView, 0, len(rounds))
	for _, r := range rounds {
		views = append(views, RoundView{
			Round:             r,
			DatasetDownloaded: e.datasets.IsDownloaded(r.Dataset),
			Owned:             r.Validator == me,
		})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID > views[j].ID })
	return views, nil
}

func Summarize(views []RoundView) Summary {
	s := Summary{Total: len(views)}
	for _, v := range views {
		switch {
		case v.Status == types.StatusWaitingValidator:
			s.Waiting++
		case v.Status.IsActive():
			s.Active++
		case v.Status == types.StatusCompleted:
			s.Completed++
		}
	}
	return s
}

// GetMissingDatasets returns the sorted datasets referenced by rounds waiting
// for a validator that are not downloaded yet.
func (e *Engine) GetMissingDatasets(ctx context.Context) ([]string, error) {
	rounds, err := e.client.GetAllRounds(ctx)
	if err != nil {
		return nil, err
	}
	missing := make(map[string]struct{})
	for _, r := range rounds {
		if r.Status != types.StatusWaitingValidator || r.Dataset == "" {
			continue
		}
		if !e.datasets.IsDownloaded(r.Dataset) {
			missing[r.Dataset] = struct{}{}
		}
	}
	names := make([]string, 0, len(missing))
	for name := range missing {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
