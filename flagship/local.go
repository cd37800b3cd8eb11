package flagship

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"gopkg.in/yaml.v3"
)

const (
	localCampaignID  = "local"
	defaultVariation = "default"
)

// flagsFile is the document read by DecisionModeLocal. JSON files are valid
// YAML and are accepted too.
//
//	flags:
//	  fs_enable_discount:
//	    value: true
//	  btn_color:
//	    variations:
//	      - {id: blue, value: blue, allocation: 50}
//	      - {id: red, value: red, allocation: 50}
//	    targeting:
//	      - when: {fs_is_vip: true}
//	        value: gold
type flagsFile struct {
	Flags map[string]localFlag `yaml:"flags"`
}

type localFlag struct {
	Campaign   string           `yaml:"campaign"`
	Value      any              `yaml:"value"`
	Variations []localVariation `yaml:"variations"`
	Targeting  []localRule      `yaml:"targeting"`
}

type localVariation struct {
	ID         string `yaml:"id"`
	Value      any    `yaml:"value"`
	Allocation int    `yaml:"allocation"`
}

type localRule struct {
	When  map[string]any `yaml:"when"`
	Value any            `yaml:"value"`
}

type loadedFile struct {
	doc  flagsFile
	hash uint64
}

// fileDecider evaluates flags from a local file. The file is re-read by Refresh.
type fileDecider struct {
	path    string
	current atomic.Pointer[loadedFile]
}

func newFileDecider(ctx context.Context, path string) (*fileDecider, error) {
	if path == "" {
		return nil, errors.New("flags file is required in LOCAL decision mode")
	}
	d := &fileDecider{path: path}
	if _, err := d.Refresh(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

// Refresh re-reads the flags file and reports whether its content changed.
func (d *fileDecider) Refresh(_ context.Context) (bool, error) {
	raw, err := os.ReadFile(d.path)
	if err != nil {
		return false, fmt.Errorf("failed to read flags file: %w", err)
	}
	hash := xxhash.Sum64(raw)
	if cur := d.current.Load(); cur != nil && cur.hash == hash {
		return false, nil
	}

	var doc flagsFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return false, fmt.Errorf("failed to parse flags file %s: %w", d.path, err)
	}
	if err := doc.validate(); err != nil {
		return false, fmt.Errorf("invalid flags file %s: %w", d.path, err)
	}
	d.current.Store(&loadedFile{doc: doc, hash: hash})
	return true, nil
}

// Decide evaluates every flag of the file for the visitor.
func (d *fileDecider) Decide(ctx context.Context, req DecisionRequest) (map[string]Flag, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc := d.current.Load().doc
	out := make(map[string]Flag, len(doc.Flags))
	for key, f := range doc.Flags {
		if flag, ok := f.decide(key, req); ok {
			out[key] = flag
		}
	}
	return out, nil
}

func (f localFlag) decide(key string, req DecisionRequest) (Flag, bool) {
	campaignID := f.Campaign
	if campaignID == "" {
		campaignID = localCampaignID
	}
	meta := FlagMetadata{
		CampaignID:       campaignID,
		CampaignType:     "local",
		VariationGroupID: key,
	}

	for i, rule := range f.Targeting {
		if rule.matches(req.Context) {
			meta.VariationID = fmt.Sprintf("rule-%d", i)
			return NewFlag(key, rule.Value, meta), true
		}
	}

	if len(f.Variations) > 0 {
		bucket := Bucket(req.VisitorID, key)
		cumulative := 0
		for _, v := range f.Variations {
			cumulative += v.Allocation
			if bucket < cumulative {
				meta.VariationID = v.ID
				return NewFlag(key, v.Value, meta), true
			}
		}
	}

	if f.Value == nil {
		return Flag{}, false
	}
	meta.VariationID = defaultVariation
	meta.IsReference = true
	return NewFlag(key, f.Value, meta), true
}

func (r localRule) matches(ctx map[string]any) bool {
	for k, want := range r.When {
		got, ok := ctx[k]
		if !ok || !sameValue(got, want) {
			return false
		}
	}
	return true
}

// sameValue compares primitives, treating all numeric types as numbers.
func sameValue(a, b any) bool {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if a != nil && b != nil && isNumberKind(va.Kind()) && isNumberKind(vb.Kind()) {
		fa, _ := convertNumber(va, reflect.TypeOf(float64(0)))
		fb, _ := convertNumber(vb, reflect.TypeOf(float64(0)))
		return fa == fb
	}
	return reflect.DeepEqual(a, b)
}

func (doc flagsFile) validate() error {
	for key, f := range doc.Flags {
		total := 0
		for _, v := range f.Variations {
			if v.Allocation < 0 {
				return fmt.Errorf("flag %s: negative allocation for variation %s", key, v.ID)
			}
			total += v.Allocation
		}
		if total > 100 {
			return fmt.Errorf("flag %s: allocations sum to %d, must not exceed 100", key, total)
		}
	}
	return nil
}

// Bucket returns a deterministic bucket in [0, 100) for a visitor and flag.
func Bucket(visitorID, flagKey string) int {
	return int(xxhash.Sum64String(visitorID+":"+flagKey) % 100)
}
