package engine

import (
	"context"
	"fmt"

	"aocr/internal/domain"
	"aocr/internal/ledger"
	"aocr/internal/repo"
)

// Verification compares a request's persisted state with its replayed ledger.
type Verification struct {
	RequestID int64        `json:"request_id"`
	Number    string       `json:"number"`
	Persisted domain.State `json:"persisted"`
	Replayed  domain.State `json:"replayed,omitempty"`
	Records   int          `json:"records"`
	OK        bool         `json:"ok"`
	Problem   string       `json:"problem,omitempty"`
}

// Verify folds the ledger of one request and checks every recorded edge
// against the transition table.
func (e Engine) Verify(ctx context.Context, id int64) (Verification, error) {
	req, err := e.GetRequest(ctx, id)
	if err != nil {
		return Verification{}, err
	}
	return e.verify(ctx, req)
}

func (e Engine) verify(ctx context.Context, req domain.Request) (Verification, error) {
	v := Verification{RequestID: req.ID, Number: req.Number, Persisted: req.State}
	records, err := e.Ledger.History(ctx, req.ID)
	if err != nil {
		return v, storeErr("read history", err)
	}
	v.Records = len(records)
	replayed, err := ledger.Fold(records)
	if err != nil {
		v.Problem = err.Error()
		return v, nil
	}
	v.Replayed = replayed
	for _, rec := range records[1:] {
		if _, ok := Lookup(*rec.From, rec.To); !ok {
			v.Problem = fmt.Sprintf("record %d: %s -> %s is not in the transition table", rec.ID, *rec.From, rec.To)
			return v, nil
		}
	}
	if replayed != req.State {
		v.Problem = fmt.Sprintf("ledger replays to %s but request is %s", replayed, req.State)
		return v, nil
	}
	v.OK = true
	return v, nil
}

// VerifyAll checks every request, withdrawn ones included.
func (e Engine) VerifyAll(ctx context.Context) ([]Verification, error) {
	reqs, err := e.ListRequests(ctx, repo.RequestFilters{IncludeDeleted: true})
	if err != nil {
		return nil, err
	}
	out := make([]Verification, 0, len(reqs))
	for _, req := range reqs {
		v, err := e.verify(ctx, req)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
