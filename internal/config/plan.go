package config

import (
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/smallbiznis/uplink/internal/plan"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// PlanHolder keeps the compensation plan currently in force and swaps it
// when the plan file changes on disk.
type PlanHolder struct {
	current atomic.Value // holds plan.Plan
	log     *zap.Logger
}

var _ plan.Provider = (*PlanHolder)(nil)

func NewPlanHolder(cfg Config, log *zap.Logger) (*PlanHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	v := viper.New()

	if cfg.PlanConfigPath != "" {
		v.SetConfigFile(cfg.PlanConfigPath)
	} else {
		v.SetConfigName("plan")
		v.SetConfigType("yml")
		v.AddConfigPath("/var/lib/uplink/config") // Volume-mounted config
		v.AddConfigPath("/etc/uplink")            // System config
		v.AddConfigPath(".")                      // Current directory (dev mode)
	}

	v.SetEnvPrefix("UPLINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	holder := &PlanHolder{log: log.Named("plan.config")}

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	if !fileFound {
		holder.current.Store(plan.Default())
		holder.log.Info("plan file not found, using defaults")
		return holder, nil
	}

	p, err := decodePlan(v)
	if err != nil {
		return nil, err
	}
	holder.current.Store(p)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodePlan(v)
		if err != nil {
			holder.log.Warn("invalid plan ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.Store(updated)
		holder.log.Info("plan reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

// NewStaticPlanHolder wraps a fixed plan.
func NewStaticPlanHolder(p plan.Plan) *PlanHolder {
	holder := &PlanHolder{log: zap.NewNop()}
	holder.current.Store(p)
	return holder
}

// Current returns the plan in force. Callers get a value, so a reload never
// changes a computation already in flight.
func (h *PlanHolder) Current() plan.Plan {
	return h.current.Load().(plan.Plan)
}

// Store swaps the plan after validation.
func (h *PlanHolder) Store(p plan.Plan) bool {
	if err := plan.Validate(p); err != nil {
		h.log.Warn("plan rejected", zap.Error(err))
		return false
	}
	h.current.Store(p)
	return true
}

func decodePlan(v *viper.Viper) (plan.Plan, error) {
	var spec plan.Spec
	key := "plan"
	if !v.IsSet(key) {
		if err := v.Unmarshal(&spec); err != nil {
			return plan.Plan{}, err
		}
		return plan.Build(spec)
	}
	if err := v.UnmarshalKey(key, &spec); err != nil {
		return plan.Plan{}, err
	}
	return plan.Build(spec)
}
