package rpc

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/decloud-network/validator/datasets"
	"github.com/decloud-network/validator/engine"
	"github.com/decloud-network/validator/logging"
)

type StatusResponse struct {
	PublicKey         string   `json:"public_key"`
	DatasetsReady     int      `json:"datasets_ready"`
	DatasetsTotal     int      `json:"datasets_total"`
	InstalledDatasets []string `json:"installed_datasets"`
}

type RoundsResponse struct {
	Rounds  []engine.RoundView `json:"rounds"`
	Summary engine.Summary     `json:"summary"`
}

type AbortRequest struct {
	Caller string `json:"caller"`
}

type TxResponse struct {
	RoundID   uint64 `json:"round_id"`
	Signature string `json:"signature"`
}

type DatasetsResponse struct {
	Datasets  []datasets.Record `json:"datasets"`
	Ready     int               `json:"ready"`
	Total     int               `json:"total"`
	TotalSize uint64            `json:"total_size"`
}

type DownloadRequest struct {
	Names     []string `json:"names"`
	Category  string   `json:"category"`
	Minimal   bool     `json:"minimal"`
	All       bool     `json:"all"`
	SkipLarge bool     `json:"skip_large"`
}

type DownloadResponse struct {
	Downloaded []string          `json:"downloaded"`
	Present    []string          `json:"present"`
	Skipped    []string          `json:"skipped"`
	Failed     map[string]string `json:"failed"`
}

func (s *Server) getStatus(c echo.Context) error {
	records := s.datasets.ListDatasets()
	resp := StatusResponse{
		PublicKey:         s.rounds.PublicKey(),
		DatasetsTotal:     len(records),
		InstalledDatasets: []string{},
	}
	for _, r := range records {
		if r.Installed {
			resp.DatasetsReady++
			resp.InstalledDatasets = append(resp.InstalledDatasets, r.Name)
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) getRounds(c echo.Context) error {
	views, err := s.rounds.GetAllRounds(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	if views == nil {
		views = []engine.RoundView{}
	}
	return c.JSON(http.StatusOK, RoundsResponse{Rounds: views, Summary: engine.Summarize(views)})
}

func (s *Server) getMissingDatasets(c echo.Context) error {
	names, err := s.rounds.GetMissingDatasets(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	if names == nil {
		names = []string{}
	}
	return c.JSON(http.StatusOK, names)
}

func roundID(c echo.Context) (uint64, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return 0, ErrInvalidRoundID
	}
	return id, nil
}

func (s *Server) abortRound(c echo.Context) error {
	id, err := roundID(c)
	if err != nil {
		return err
	}
	var req AbortRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return ErrInvalidRequest
		}
	}
	if req.Caller == "" {
		req.Caller = s.rounds.PublicKey()
	}
	ctx := c.Request().Context()
	logging.FromContext(ctx).Info("aborting round", zap.Uint64("round", id), zap.String("caller", req.Caller))
	sig, err := s.rounds.AbortRound(ctx, id, req.Caller)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, TxResponse{RoundID: id, Signature: sig})
}

func (s *Server) claimReward(c echo.Context) error {
	id, err := roundID(c)
	if err != nil {
		return err
	}
	sig, err := s.rounds.ClaimReward(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, TxResponse{RoundID: id, Signature: sig})
}

func (s *Server) getDatasets(c echo.Context) error {
	records := s.datasets.ListDatasets()
	resp := DatasetsResponse{
		Datasets:  records,
		Total:     len(records),
		TotalSize: s.datasets.EstimateTotalSize(),
	}
	for _, r := range records {
		if r.Installed {
			resp.Ready++
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) getCategories(c echo.Context) error {
	return c.JSON(http.StatusOK, s.datasets.ListCategories())
}

func (s *Server) getDataset(c echo.Context) error {
	record, err := s.datasets.Record(c.Param("name"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, record)
}

func (s *Server) removeDataset(c echo.Context) error {
	if err := s.datasets.Remove(c.Param("name")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) download(c echo.Context) error {
	var req DownloadRequest
	if err := c.Bind(&req); err != nil {
		return ErrInvalidRequest
	}
	ctx := c.Request().Context()

	var (
		batch *datasets.BatchResult
		err   error
	)
	switch {
	case len(req.Names) > 0:
		batch = &datasets.BatchResult{Failed: make(map[string]error)}
		for _, name := range req.Names {
			res, err := s.datasets.Download(ctx, name)
			switch {
			case err != nil:
				batch.Failed[name] = err
			case res.AlreadyPresent:
				batch.Present = append(batch.Present, name)
			default:
				batch.Downloaded = append(batch.Downloaded, name)
			}
		}
	case req.Category != "":
		category, ok := datasets.ParseCategory(req.Category)
		if !ok {
			return ErrUnknownCategory
		}
		batch, err = s.datasets.DownloadCategory(ctx, category, req.SkipLarge)
	case req.Minimal:
		batch, err = s.datasets.DownloadMinimal(ctx)
	case req.All:
		batch, err = s.datasets.DownloadAll(ctx, req.SkipLarge)
	default:
		return ErrNothingToFetch
	}
	if batch == nil {
		return httpError(err)
	}
	if err != nil {
		logging.FromContext(ctx).Warn("some datasets failed to download", zap.Error(err))
	}
	return c.JSON(http.StatusOK, toDownloadResponse(batch))
}

func toDownloadResponse(batch *datasets.BatchResult) DownloadResponse {
	resp := DownloadResponse{
		Downloaded: orEmpty(batch.Downloaded),
		Present:    orEmpty(batch.Present),
		Skipped:    orEmpty(batch.Skipped),
		Failed:     make(map[string]string, len(batch.Failed)),
	}
	for name, err := range batch.Failed {
		resp.Failed[name] = err.Error()
	}
	sort.Strings(resp.Downloaded)
	sort.Strings(resp.Present)
	sort.Strings(resp.Skipped)
	return resp
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
