package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/uplink/internal/batch"
)

type Service interface {
	// ComputePeriodVolumes writes one record per member for period,
	// overwriting an earlier run.
	ComputePeriodVolumes(ctx context.Context, period Period) (batch.Result, error)
	ForPeriod(ctx context.Context, memberID snowflake.ID, period Period) (*TeamVolume, error)
	Latest(ctx context.Context, memberID snowflake.ID) (*TeamVolume, error)
	// LatestFor returns the most recent record of each member that has one.
	LatestFor(ctx context.Context, memberIDs []snowflake.ID) (map[snowflake.ID]TeamVolume, error)
}

var (
	ErrInvalidPeriod  = errors.New("invalid_period")
	ErrVolumeNotFound = errors.New("team_volume_not_found")
	ErrNegativeVolume = errors.New("negative_personal_volume")
	ErrLevelMismatch  = errors.New("network_level_mismatch")
)
