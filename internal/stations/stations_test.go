package stations

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arkbot/internal/task/job"
)

const yamlBook = `
gacha:
  - {name: g1, teleporter: tp_g1, resource_type: berry, side: left}
  - {name: g2, teleporter: tp_g2, resource_type: seed, side: right}
pego:
  - {name: p1, teleporter: tp_p1, delay: 1800}
sparkpowder:
  - {name: s1, teleporter: tp_s1, initial_delay: 60}
gunpowder:
  - {name: gp1, teleporter: tp_gp1, delay: 1200}
collect:
  - {name: c1, teleporter: tp_c1, side: left, depot: tp_depot}
`

func TestDecodeFormats(t *testing.T) {
	t.Parallel()

	y, err := Decode("book.yaml", []byte(yamlBook))
	require.NoError(t, err)
	require.NoError(t, y.Validate())

	for _, name := range []string{"book.json", "book.toml", "book.yml"} {
		t.Run(name, func(t *testing.T) {
			b, err := Encode(name, y)
			require.NoError(t, err)
			got, err := Decode(name, b)
			require.NoError(t, err)
			assert.Equal(t, y.Names(), got.Names())
			assert.Equal(t, y.Gacha, got.Gacha)
			assert.Equal(t, y.Pego, got.Pego)
		})
	}
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	_, err := Decode("book.json", []byte(`{"gacha":[{"name":"g","teleporter":"t","bogus":1}]}`))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		file File
		ok   bool
	}{
		{"empty", File{}, true},
		{"duplicate across kinds", File{
			Gacha: []Gacha{{Name: "x", Teleporter: "t"}},
			Pego:  []Pego{{Name: "x", Teleporter: "t", Delay: 10}},
		}, false},
		{"reserved", File{Gacha: []Gacha{{Name: "pause", Teleporter: "t"}}}, false},
		{"pego zero delay", File{Pego: []Pego{{Name: "p", Teleporter: "t"}}}, false},
		{"missing teleporter", File{Gacha: []Gacha{{Name: "g"}}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.file.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestBookAddPersists(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "stations.json")

	b, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, b.AddGacha(Gacha{Name: "g1", Teleporter: "tp1", ResourceType: "berry", Side: "left"}))
	require.NoError(t, b.AddPego(Pego{Name: "p1", Teleporter: "tp2", Delay: 900}))
	require.ErrorIs(t, b.AddGacha(Gacha{Name: "p1", Teleporter: "tp3"}), ErrExists)
	require.Error(t, b.AddPego(Pego{Name: "p2", Teleporter: "tp4"}))

	again, err := Open(path)
	require.NoError(t, err)
	lines, err := again.List(KindGacha)
	require.NoError(t, err)
	assert.Equal(t, []string{"g1: teleporter tp1, resource berry, side left"}, lines)
	lines, err = again.List(KindPego)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1: teleporter tp2, delay 900s"}, lines)

	_, err = again.List("nope")
	require.Error(t, err)
}

func TestOpenRejectsInvalidBook(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "stations.toml")
	require.NoError(t, os.WriteFile(path, []byte("[[pego]]\nname = \"p\"\nteleporter = \"t\"\n"), 0o600))
	_, err := Open(path)
	require.Error(t, err)
}

func TestBuildJobs(t *testing.T) {
	t.Parallel()
	f, err := Decode("book.yaml", []byte(yamlBook))
	require.NoError(t, err)

	jobs := BuildJobs(*f, BuildOptions{Seeds230: true, Render: true, Collect: true}, nil)
	byName := map[string]*job.Job{}
	for _, j := range jobs {
		byName[j.Name] = j
	}
	require.Len(t, byName, 7)

	g := byName["g1"]
	assert.Equal(t, job.PriorityGacha, g.Priority)
	assert.Equal(t, job.GachaDelaySeeds230, g.RequeueDelay)
	assert.Equal(t, job.GroupGacha, g.Kind.Group)
	assert.Equal(t, "tp_g1", g.MetaValue(MetaTeleporter))

	p := byName["p1"]
	assert.Equal(t, job.PriorityPego, p.Priority)
	assert.Equal(t, 1800*time.Second, p.RequeueDelay)
	assert.Equal(t, job.GroupPego, p.Kind.Group)

	s := byName["s1"]
	assert.Equal(t, job.PriorityCrafting, s.Priority)
	assert.Equal(t, job.SparkpowderDelay, s.RequeueDelay)
	assert.Equal(t, time.Minute, s.InitialDelay)
	assert.Equal(t, job.FeatureSparkpowder, s.Kind.Feature)
	assert.Equal(t, "3", s.MetaValue(MetaDepositHeight))

	assert.Equal(t, 1200*time.Second, byName["gp1"].RequeueDelay)
	assert.Equal(t, job.PriorityCollect, byName["c1"].Priority)
	assert.Equal(t, job.CollectDelay, byName["c1"].RequeueDelay)
	assert.Equal(t, job.RenderDelay, byName[RenderJobName].RequeueDelay)

	plain := BuildJobs(*f, BuildOptions{}, nil)
	assert.Len(t, plain, 5)
	for _, j := range plain {
		if j.Name == "g1" {
			assert.Equal(t, job.GachaDelay, j.RequeueDelay)
		}
	}
}
