package seed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/uplink/internal/batch"
	networkdomain "github.com/smallbiznis/uplink/internal/network/domain"
	"go.uber.org/zap"
)

var ErrInvalidHeader = errors.New("invalid_seed_header")

var header = []string{"id", "referrer_id", "subscription_status", "tier"}

type row struct {
	line int
	req  networkdomain.RegisterMemberRequest
}

// ImportMembers registers the members listed in r, a CSV file with the
// columns id, referrer_id, subscription_status and tier. Rows may appear in
// any order; a row waits until its referrer exists. Members that already
// exist are skipped, so an import can be rerun.
func ImportMembers(ctx context.Context, svc networkdomain.Service, log *zap.Logger, r io.Reader) (batch.Result, error) {
	if log == nil {
		log = zap.NewNop()
	}

	rows, res, err := readRows(r)
	if err != nil {
		return res, err
	}

	pending := rows
	for len(pending) > 0 {
		var deferred []row
		for _, rw := range pending {
			if err := ctx.Err(); err != nil {
				return res, err
			}

			_, err := svc.RegisterMember(ctx, rw.req)
			switch {
			case err == nil:
				res.Succeed()
			case errors.Is(err, networkdomain.ErrMemberExists):
				res.Skip()
			case errors.Is(err, networkdomain.ErrReferrerNotFound):
				deferred = append(deferred, rw)
			case errors.Is(err, networkdomain.ErrInvalidSubscriptionStatus),
				errors.Is(err, networkdomain.ErrInvalidTier):
				res.Fail(rowID(rw), batch.KindDataIntegrity, err.Error())
			default:
				return res, fmt.Errorf("line %d: %w", rw.line, err)
			}
		}

		if len(deferred) == len(pending) {
			for _, rw := range deferred {
				res.Fail(rowID(rw), batch.KindDataIntegrity, networkdomain.ErrReferrerNotFound.Error())
			}
			break
		}
		pending = deferred
	}

	log.Info("seed.members.imported",
		zap.Int("processed", res.Processed),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", len(res.Failed)),
	)
	return res, nil
}

func readRows(r io.Reader) ([]row, batch.Result, error) {
	var res batch.Result

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(header)
	reader.TrimLeadingSpace = true

	first, err := reader.Read()
	if err != nil {
		return nil, res, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}
	for i, col := range header {
		if !strings.EqualFold(strings.TrimSpace(first[i]), col) {
			return nil, res, fmt.Errorf("%w: column %d is %q, want %q", ErrInvalidHeader, i+1, first[i], col)
		}
	}

	var rows []row
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, res, err
		}

		rw, perr := parseRow(line, record)
		if perr != nil {
			res.Fail(fmt.Sprintf("line:%d", line), batch.KindDataIntegrity, perr.Error())
			continue
		}
		rows = append(rows, rw)
	}
	return rows, res, nil
}

func parseRow(line int, record []string) (row, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(record[0]))
	if err != nil || id <= 0 {
		return row{}, errors.New("invalid_id")
	}

	req := networkdomain.RegisterMemberRequest{
		ID:                 &id,
		SubscriptionStatus: networkdomain.SubscriptionStatus(strings.ToLower(strings.TrimSpace(record[2]))),
		Tier:               strings.TrimSpace(record[3]),
	}
	if req.SubscriptionStatus == "" {
		req.SubscriptionStatus = networkdomain.SubscriptionStatusActive
	}
	if ref := strings.TrimSpace(record[1]); ref != "" {
		refID, err := snowflake.ParseString(ref)
		if err != nil || refID <= 0 {
			return row{}, errors.New("invalid_referrer_id")
		}
		req.ReferrerID = &refID
	}
	return row{line: line, req: req}, nil
}

func rowID(rw row) string {
	if rw.req.ID == nil {
		return fmt.Sprintf("line:%d", rw.line)
	}
	return rw.req.ID.String()
}
