package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/orneryd/cadence/pkg/storage"
)

// seedFile is the YAML import format:
//
//	contexts:
//	  - id: health
//	    important: true
//	    children:
//	      - id: running
//	        target_interval: 172800
//	        points:
//	          - time: 1700000000
//	            duration: 1800
//	            text: "5k"
//	links:
//	  - {name: related, source: running, dest: sleep}
type seedFile struct {
	Contexts []seedContext `yaml:"contexts"`
	Links    []seedLink    `yaml:"links"`
}

type seedContext struct {
	ID             string         `yaml:"id"`
	Important      bool           `yaml:"important"`
	TargetInterval float64        `yaml:"target_interval"`
	Attributes     map[string]any `yaml:"attributes"`
	Points         []seedPoint    `yaml:"points"`
	Children       []seedContext  `yaml:"children"`
}

type seedPoint struct {
	ID       string  `yaml:"id"`
	Time     float64 `yaml:"time"`
	Duration float64 `yaml:"duration"`
	Text     string  `yaml:"text"`
}

type seedLink struct {
	Name   string `yaml:"name"`
	Source string `yaml:"source"`
	Dest   string `yaml:"dest"`
}

type seedStats struct {
	Contexts int
	Links    int
	Points   int
}

func readSeed(path string) (*seedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return parseSeed(data)
}

func parseSeed(data []byte) (*seedFile, error) {
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	return &seed, nil
}

func seedPointID(ctx storage.ContextID, at float64) string {
	name := string(ctx) + "|" + strconv.FormatFloat(at, 'f', -1, 64)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

// apply writes the seed into g. Contexts that already exist are updated in
// place and re-linked under their seed parent; points without an id get a
// name-based UUID from their context and time, so importing the same file
// twice upserts rather than duplicates.
func (s *seedFile) apply(g *storage.Graph) (seedStats, error) {
	var stats seedStats
	for i := range s.Contexts {
		if err := applySeedContext(g, "", &s.Contexts[i], &stats); err != nil {
			return stats, err
		}
	}
	for _, l := range s.Links {
		if l.Name == "" {
			return stats, fmt.Errorf("link %s->%s: %w: missing name", l.Source, l.Dest, storage.ErrInvalidData)
		}
		if err := g.AddAssociation(l.Name, storage.ContextID(l.Source), storage.ContextID(l.Dest)); err != nil {
			return stats, fmt.Errorf("link %s-[%s]->%s: %w", l.Source, l.Name, l.Dest, err)
		}
		stats.Links++
	}
	return stats, nil
}

func applySeedContext(g *storage.Graph, parent storage.ContextID, sc *seedContext, stats *seedStats) error {
	if sc.ID == "" {
		return fmt.Errorf("context under %q: %w", parent, storage.ErrInvalidID)
	}
	c := &storage.Context{ID: storage.ContextID(sc.ID)}
	for name, value := range sc.Attributes {
		c.Attributes = c.Attributes.Set(name, value)
	}
	if sc.Important {
		c.Attributes = c.Attributes.Set(storage.AttrImportant, true)
	}
	if sc.TargetInterval > 0 {
		c.Attributes = c.Attributes.Set(storage.AttrTargetInterval, sc.TargetInterval)
	}

	var err error
	switch {
	case g.HasContext(c.ID):
		err = g.UpdateContext(c)
		if err == nil && parent != "" {
			err = g.Link(parent, c.ID)
		}
	case parent == "":
		err = g.AddContext(c)
	default:
		err = g.AddChild(parent, c)
	}
	if err != nil {
		return fmt.Errorf("context %s: %w", sc.ID, err)
	}
	stats.Contexts++

	for _, sp := range sc.Points {
		id := sp.ID
		if id == "" {
			id = seedPointID(c.ID, sp.Time)
		}
		attrs := storage.Attributes{}.Set(storage.AttrTime, sp.Time)
		if sp.Duration > 0 {
			attrs.Set(storage.AttrDuration, sp.Duration)
		}
		if sp.Text != "" {
			attrs.Set(storage.AttrText, sp.Text)
		}
		p := &storage.Point{ID: storage.PointID(id), ContextID: c.ID, Attributes: attrs}
		if err := g.AddPoint(p); err != nil {
			return fmt.Errorf("point %s: %w", id, err)
		}
		stats.Points++
	}

	for i := range sc.Children {
		if err := applySeedContext(g, c.ID, &sc.Children[i], stats); err != nil {
			return err
		}
	}
	return nil
}
