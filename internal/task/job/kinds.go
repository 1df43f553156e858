package job

import "time"

// Features gated by operator toggles.
const (
	FeatureGacha       = "gacha"
	FeaturePego        = "pego"
	FeatureSparkpowder = "sparkpowder"
	FeatureGunpowder   = "gunpowder"
	FeatureRender      = "render"
	FeatureCollect     = "collect"
	FeaturePause       = "pause"
)

// Cycle groups. A maintenance pass is due once every tracked member of every
// non-empty group has run.
const (
	GroupGacha = "gacha"
	GroupPego  = "pego"
)

// Priorities, lower runs first.
const (
	PriorityMaintenance = 0
	PriorityPause       = 1
	PriorityPego        = 2
	PriorityCrafting    = 3
	PriorityGacha       = 4
	PriorityCollect     = 5
	PriorityRender      = 8
)

const (
	GachaDelay         = 6600 * time.Second
	GachaDelaySeeds230 = 10700 * time.Second
	SparkpowderDelay   = 1800 * time.Second
	GunpowderDelay     = 3000 * time.Second
	RenderDelay        = 90 * time.Second
	CollectDelay       = 13200 * time.Second
)

// NewPause builds the operator pause job: it runs once at the top of the
// active queue and is never re-queued.
func NewPause(action Action) *Job {
	return &Job{
		Name:     PauseName,
		Priority: PriorityPause,
		Kind:     Ephemeral(FeaturePause),
		Action:   action,
	}
}
