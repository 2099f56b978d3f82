// Copyright (c) 2026 Starlite TV
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package effects defines the video effect vocabulary accepted in render
// tasks: named ffmpeg filter fragments in three intensity tiers. Which
// effects a task carries is the scheduler's business; this package only
// validates names and compiles them into a filter chain.
package effects

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Tier groups effects by visual intensity.
type Tier string

const (
	TierLight  Tier = "light"
	TierMedium Tier = "medium"
	TierHeavy  Tier = "heavy"
)

// Effect is one named ffmpeg filter fragment.
type Effect struct {
	Name   string
	Tier   Tier
	Filter string
}

var (
	ErrUnknownEffect      = errors.New("unknown effect")
	ErrIncompatibleEffect = errors.New("incompatible effect combination")
	ErrUnknownBlendMode   = errors.New("unknown blend mode")
)

var catalog = map[string]Effect{
	// Light: color and tone shifts that keep the source readable.
	"warm_shift":        {Name: "warm_shift", Tier: TierLight, Filter: "colorbalance=rs=0.15:gs=-0.05:bs=-0.1"},
	"cool_shift":        {Name: "cool_shift", Tier: TierLight, Filter: "colorbalance=rs=-0.1:gs=0.05:bs=0.15"},
	"high_saturation":   {Name: "high_saturation", Tier: TierLight, Filter: "eq=saturation=1.5"},
	"low_saturation":    {Name: "low_saturation", Tier: TierLight, Filter: "eq=saturation=0.6"},
	"hue_drift":         {Name: "hue_drift", Tier: TierLight, Filter: "hue=H=2*PI*t/10"},
	"vignette":          {Name: "vignette", Tier: TierLight, Filter: "vignette=PI/4"},
	"soft_blur":         {Name: "soft_blur", Tier: TierLight, Filter: "gblur=sigma=1.5"},
	"brightness_boost":  {Name: "brightness_boost", Tier: TierLight, Filter: "eq=brightness=0.08:contrast=1.1"},
	"dark_contrast":     {Name: "dark_contrast", Tier: TierLight, Filter: "eq=brightness=-0.05:contrast=1.3"},
	"slight_hue_rotate": {Name: "slight_hue_rotate", Tier: TierLight, Filter: "hue=h=30"},
	"sepia":             {Name: "sepia", Tier: TierLight, Filter: "colorchannelmixer=.393:.769:.189:0:.349:.686:.168:0:.272:.534:.131"},

	// Medium: visible texture and channel work.
	"frame_blend":          {Name: "frame_blend", Tier: TierMedium, Filter: "tblend=all_mode=average"},
	"frame_blend_screen":   {Name: "frame_blend_screen", Tier: TierMedium, Filter: "tblend=all_mode=screen"},
	"rgba_shift":           {Name: "rgba_shift", Tier: TierMedium, Filter: "rgbashift=rh=-3:bh=3"},
	"film_grain":           {Name: "film_grain", Tier: TierMedium, Filter: "noise=alls=20:allf=t+u"},
	"cross_process":        {Name: "cross_process", Tier: TierMedium, Filter: "curves=preset=cross_process"},
	"vintage":              {Name: "vintage", Tier: TierMedium, Filter: "curves=preset=vintage"},
	"negative":             {Name: "negative", Tier: TierMedium, Filter: "curves=preset=negative"},
	"chromatic_aberration": {Name: "chromatic_aberration", Tier: TierMedium, Filter: "rgbashift=rh=5:rv=-2:bh=-5:bv=2"},
	"posterize":            {Name: "posterize", Tier: TierMedium, Filter: "lutyuv=y='bitand(val,240)':u='bitand(val,240)':v='bitand(val,240)'"},
	"scan_lines":           {Name: "scan_lines", Tier: TierMedium, Filter: "drawgrid=w=0:h=2:t=1:c=black@0.3"},
	"color_bleed":          {Name: "color_bleed", Tier: TierMedium, Filter: "gblur=sigma=3,rgbashift=rh=8:bh=-8"},
	"red_channel":          {Name: "red_channel", Tier: TierMedium, Filter: "colorchannelmixer=rr=1:rg=0:rb=0:gg=0:bb=0"},
	"blue_channel":         {Name: "blue_channel", Tier: TierMedium, Filter: "colorchannelmixer=rr=0:gg=0:bb=1:bg=0:br=0"},

	// Heavy: structure-destroying looks.
	"edge_glow":       {Name: "edge_glow", Tier: TierHeavy, Filter: "edgedetect=low=0.1:high=0.3:mode=colormix"},
	"pixelate":        {Name: "pixelate", Tier: TierHeavy, Filter: "scale=iw/8:ih/8:flags=neighbor,scale=iw*8:ih*8:flags=neighbor"},
	"psychedelic_hue": {Name: "psychedelic_hue", Tier: TierHeavy, Filter: "hue=H=2*PI*t/3:s=3"},
	"quad_mirror":     {Name: "quad_mirror", Tier: TierHeavy, Filter: "crop=iw/2:ih/2:0:0,split[a][b];[a]hflip[c];[b][c]hstack,split[d][e];[d]vflip[f];[e][f]vstack"},
	"heavy_trails":    {Name: "heavy_trails", Tier: TierHeavy, Filter: "tblend=all_mode=addition:all_opacity=0.7"},
	"solarize":        {Name: "solarize", Tier: TierHeavy, Filter: "lutyuv=y='if(gt(val,128),256-val,val)*2'"},
	"glitch":          {Name: "glitch", Tier: TierHeavy, Filter: "noise=alls=40:allf=t,rgbashift=rh=10:rv=5:bh=-10:bv=-3"},
	"deep_pixelate":   {Name: "deep_pixelate", Tier: TierHeavy, Filter: "scale=iw/16:ih/16:flags=neighbor,scale=iw*16:ih*16:flags=neighbor"},
}

// incompatiblePairs lists effects that clash and are rejected together.
var incompatiblePairs = [][2]string{
	{"edge_glow", "high_saturation"},
}

// blendModes are the two-clip compositing modes tasks may request.
var blendModes = map[string]struct{}{
	"addition":   {},
	"average":    {},
	"difference": {},
	"exclusion":  {},
	"hardlight":  {},
	"multiply":   {},
	"overlay":    {},
	"screen":     {},
	"softlight":  {},
}

// Lookup returns the effect for name.
func Lookup(name string) (Effect, bool) {
	e, ok := catalog[name]
	return e, ok
}

// Names returns all known effect names, sorted.
func Names() []string {
	out := make([]string, 0, len(catalog))
	for name := range catalog {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ByTier returns all effects of one tier, sorted by name.
func ByTier(tier Tier) []Effect {
	var out []Effect
	for _, e := range catalog {
		if e.Tier == tier {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Validate checks that every name exists and that no incompatible pair is
// present.
func Validate(names []string) error {
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if _, ok := catalog[name]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownEffect, name)
		}
		seen[name] = struct{}{}
	}
	for _, pair := range incompatiblePairs {
		if _, a := seen[pair[0]]; a {
			if _, b := seen[pair[1]]; b {
				return fmt.Errorf("%w: %q and %q", ErrIncompatibleEffect, pair[0], pair[1])
			}
		}
	}
	return nil
}

// Compile validates names and joins their filters into one chain fragment
// in the given order. An empty list compiles to an empty string.
func Compile(names []string) (string, error) {
	if err := Validate(names); err != nil {
		return "", err
	}
	filters := make([]string, 0, len(names))
	for _, name := range names {
		filters = append(filters, catalog[name].Filter)
	}
	return strings.Join(filters, ","), nil
}

// ValidateBlendMode checks a two-clip compositing mode.
func ValidateBlendMode(mode string) error {
	if _, ok := blendModes[mode]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownBlendMode, mode)
	}
	return nil
}
