package stations

import (
	"strconv"
	"time"

	"arkbot/internal/task/job"
)

// BuildOptions are the per-deployment knobs that are not stored per station.
type BuildOptions struct {
	// Seeds230 selects the longer gacha requeue delay.
	Seeds230 bool
	// Render adds the render bed job.
	Render bool
	// Collect adds the collect stations.
	Collect bool
}

// Job meta keys.
const (
	MetaKind          = "kind"
	MetaTeleporter    = "teleporter"
	MetaResourceType  = "resource_type"
	MetaSide          = "side"
	MetaDepot         = "depot"
	MetaDepositHeight = "deposit_height"
)

// RenderJobName names the render bed job.
const RenderJobName = "render"

// BuildJobs maps every station to a job. act runs all of them; it tells
// kinds apart through job meta.
func BuildJobs(f File, opts BuildOptions, act job.Action) []*job.Job {
	var out []*job.Job
	for _, g := range f.Gacha {
		out = append(out, GachaJob(g, opts.Seeds230, act))
	}
	for _, p := range f.Pego {
		out = append(out, PegoJob(p, act))
	}
	for _, c := range f.Sparkpowder {
		out = append(out, craftingJob(KindSparkpowder, c, job.SparkpowderDelay, act))
	}
	for _, c := range f.Gunpowder {
		out = append(out, craftingJob(KindGunpowder, c, job.GunpowderDelay, act))
	}
	if opts.Collect {
		for _, c := range f.Collect {
			out = append(out, &job.Job{
				Name:         c.Name,
				Priority:     job.PriorityCollect,
				RequeueDelay: job.CollectDelay,
				Kind:         job.Recurring(job.FeatureCollect, ""),
				Action:       act,
				Meta: map[string]string{
					MetaKind:       KindCollect,
					MetaTeleporter: c.Teleporter,
					MetaSide:       c.Side,
					MetaDepot:      c.Depot,
				},
			})
		}
	}
	if opts.Render {
		out = append(out, &job.Job{
			Name:         RenderJobName,
			Priority:     job.PriorityRender,
			RequeueDelay: job.RenderDelay,
			Kind:         job.Recurring(job.FeatureRender, ""),
			Action:       act,
			Meta:         map[string]string{MetaKind: job.FeatureRender},
		})
	}
	return out
}

// GachaJob builds the job for one gacha station; it belongs to the gacha
// cycle group.
func GachaJob(g Gacha, seeds230 bool, act job.Action) *job.Job {
	delay := job.GachaDelay
	if seeds230 {
		delay = job.GachaDelaySeeds230
	}
	return &job.Job{
		Name:         g.Name,
		Priority:     job.PriorityGacha,
		RequeueDelay: delay,
		Kind:         job.Recurring(job.FeatureGacha, job.GroupGacha),
		Action:       act,
		Meta: map[string]string{
			MetaKind:         KindGacha,
			MetaTeleporter:   g.Teleporter,
			MetaResourceType: g.ResourceType,
			MetaSide:         g.Side,
		},
	}
}

// PegoJob builds the job for one pego station; it belongs to the pego cycle
// group.
func PegoJob(p Pego, act job.Action) *job.Job {
	return &job.Job{
		Name:         p.Name,
		Priority:     job.PriorityPego,
		RequeueDelay: time.Duration(p.Delay) * time.Second,
		Kind:         job.Recurring(job.FeaturePego, job.GroupPego),
		Action:       act,
		Meta: map[string]string{
			MetaKind:       KindPego,
			MetaTeleporter: p.Teleporter,
		},
	}
}

func craftingJob(kind string, c Crafting, def time.Duration, act job.Action) *job.Job {
	delay := def
	if c.Delay > 0 {
		delay = time.Duration(c.Delay) * time.Second
	}
	height := c.DepositHeight
	if height <= 0 {
		height = 3
	}
	return &job.Job{
		Name:         c.Name,
		Priority:     job.PriorityCrafting,
		RequeueDelay: delay,
		InitialDelay: time.Duration(max(c.InitialDelay, 0)) * time.Second,
		Kind:         job.Recurring(kind, ""),
		Action:       act,
		Meta: map[string]string{
			MetaKind:          kind,
			MetaTeleporter:    c.Teleporter,
			MetaDepositHeight: strconv.Itoa(height),
		},
	}
}
