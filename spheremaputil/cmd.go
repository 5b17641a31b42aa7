/*
Copyright © 2026 the SphereMap authors.
This file is part of SphereMap.

SphereMap is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

SphereMap is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with SphereMap.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package spheremaputil holds the configuration and command
// plumbing for the spheremap command-line interface.
package spheremaputil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lnashier/viper"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/spheremodel/spheremap"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	// Options are the configuration options available to SphereMap.
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "Scheme",
			usage: `
              Scheme is the sampling scheme for the 'grid' command. The
              options are 'equiangular', 'healpix', 'icosahedral',
              'cubedsphere', 'gausslegendre', and 'random'.`,
			defaultVal: "healpix",
			flagsets:   []*pflag.FlagSet{gridCmd.Flags()},
		},
		{
			name: "Resolution",
			usage: `
              Resolution is the scheme-specific resolution parameter for
              the 'grid' command: the number of latitude rings
              (equiangular, gausslegendre), the HEALPix nside, the
              icosahedral subdivision depth, the number of cells along a
              cube-face edge, or the random point count.`,
			defaultVal: 4,
			flagsets:   []*pflag.FlagSet{gridCmd.Flags()},
		},
		{
			name: "SrcGrid",
			usage: `
              SrcGrid is the source sampling for the 'remap' command,
              written as scheme-resolution (for example 'healpix-4').`,
			defaultVal: "healpix-4",
			flagsets:   []*pflag.FlagSet{remapCmd.Flags()},
		},
		{
			name: "DstGrid",
			usage: `
              DstGrid is the destination sampling for the 'remap'
              command, written as scheme-resolution (for example
              'healpix-2').`,
			defaultVal: "healpix-2",
			flagsets:   []*pflag.FlagSet{remapCmd.Flags()},
		},
		{
			name: "Levels",
			usage: `
              Levels is the fine-to-coarse list of samplings for the
              'hierarchy' command, each written as scheme-resolution
              (for example 'healpix-8,healpix-4,healpix-2').`,
			defaultVal: []string{"healpix-8", "healpix-4", "healpix-2"},
			flagsets:   []*pflag.FlagSet{hierarchyCmd.Flags()},
		},
		{
			name: "RemapCommand",
			usage: `
              RemapCommand is the path to the external conservative
              remapping executable that computes grid overlaps, for
              example ESMF_RegridWeightGen.`,
			defaultVal: "ESMF_RegridWeightGen",
			flagsets: []*pflag.FlagSet{remapCmd.Flags(),
				hierarchyCmd.Flags()},
		},
		{
			name: "RemapArgs",
			usage: `
              RemapArgs are extra arguments appended to invocations of
              the remapping executable.`,
			defaultVal: []string{},
			flagsets: []*pflag.FlagSet{remapCmd.Flags(),
				hierarchyCmd.Flags()},
		},
		{
			name: "RemapNormalization",
			usage: `
              RemapNormalization is the fractional-weight convention
              requested from the remapping executable: 'fracarea' or
              'destarea'.`,
			defaultVal: "fracarea",
			flagsets: []*pflag.FlagSet{remapCmd.Flags(),
				hierarchyCmd.Flags()},
		},
		{
			name: "RemapTimeout",
			usage: `
              RemapTimeout bounds one invocation of the remapping
              executable, in Go duration syntax (for example '15m').`,
			defaultVal: "15m",
			flagsets: []*pflag.FlagSet{remapCmd.Flags(),
				hierarchyCmd.Flags()},
		},
		{
			name: "KeepFiles",
			usage: `
              KeepFiles retains the temporary grid and weight files of
              each remapping invocation for debugging.`,
			defaultVal: false,
			flagsets: []*pflag.FlagSet{remapCmd.Flags(),
				hierarchyCmd.Flags()},
		},
		{
			name: "Tolerance",
			usage: `
              Tolerance is the relative tolerance for the conservation
              and row-sum checks on interpolation matrices and
              operators.`,
			defaultVal: 1.e-6,
			flagsets: []*pflag.FlagSet{remapCmd.Flags(),
				hierarchyCmd.Flags()},
		},
		{
			name: "CacheDir",
			usage: `
              CacheDir, if nonempty, is a directory where computed
              interpolation matrices are cached so that they survive
              across runs.`,
			defaultVal: "",
			flagsets: []*pflag.FlagSet{remapCmd.Flags(),
				hierarchyCmd.Flags()},
		},
		{
			name: "MemCacheEntries",
			usage: `
              MemCacheEntries is the number of interpolation matrices
              kept in the in-memory cache layer.`,
			defaultVal: 10,
			flagsets: []*pflag.FlagSet{remapCmd.Flags(),
				hierarchyCmd.Flags()},
		},
		{
			name: "OutputDir",
			usage: `
              OutputDir is the directory where output files are written:
              a shapefile of cell centers for 'grid', and gob files of
              pooling/unpooling operator pairs for 'remap' and
              'hierarchy'.`,
			defaultVal: ".",
			flagsets: []*pflag.FlagSet{gridCmd.Flags(), remapCmd.Flags(),
				hierarchyCmd.Flags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("SPHEREMAP")

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch option.defaultVal.(type) {
			case string:
				if option.shorthand == "" {
					set.String(option.name, option.defaultVal.(string), option.usage)
				} else {
					set.StringP(option.name, option.shorthand, option.defaultVal.(string), option.usage)
				}
			case []string:
				if option.shorthand == "" {
					set.StringSlice(option.name, option.defaultVal.([]string), option.usage)
				} else {
					set.StringSliceP(option.name, option.shorthand, option.defaultVal.([]string), option.usage)
				}
			case bool:
				if option.shorthand == "" {
					set.Bool(option.name, option.defaultVal.(bool), option.usage)
				} else {
					set.BoolP(option.name, option.shorthand, option.defaultVal.(bool), option.usage)
				}
			case int:
				if option.shorthand == "" {
					set.Int(option.name, option.defaultVal.(int), option.usage)
				} else {
					set.IntP(option.name, option.shorthand, option.defaultVal.(int), option.usage)
				}
			case float64:
				if option.shorthand == "" {
					set.Float64(option.name, option.defaultVal.(float64), option.usage)
				} else {
					set.Float64P(option.name, option.shorthand, option.defaultVal.(float64), option.usage)
				}
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(gridCmd)
	Root.AddCommand(remapCmd)
	Root.AddCommand(hierarchyCmd)
}

// setConfig finds and reads in the configuration file, if there is one.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(cfgpath)
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("spheremap: problem reading configuration file: %v", err)
		}
	}
	return nil
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "spheremap",
	Short: "Conservative interpolation between spherical samplings.",
	Long: `SphereMap builds sparse conservative interpolation matrices between
samplings of the sphere, and derives pooling and unpooling operators
from them. Use the subcommands specified below to access the
functionality.

Refer to the subcommand documentation for configuration options and default
settings. Configuration can be changed by using a configuration file (and
providing the path to the file using the --config flag), by using
command-line arguments, or by setting environment variables in the format
'SPHEREMAP_var' where 'var' is the name of the variable to be set.`,
	DisableAutoGenTag: true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return setConfig() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of SphereMap.",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("SphereMap v%s\n", spheremap.Version)
	},
	DisableAutoGenTag: true,
}

// gridCmd is a command that creates a spherical sampling and saves its
// cell centers to a shapefile.
var gridCmd = &cobra.Command{
	Use:   "grid",
	Short: "Create a spherical sampling",
	Long: `grid creates a spherical sampling from the scheme and resolution
specified in the configuration and writes its cell centers and areas to
a shapefile in OutputDir for inspection.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		g, err := spheremap.NewGrid(
			spheremap.Scheme(strings.ToLower(Cfg.GetString("Scheme"))),
			Cfg.GetInt("Resolution"))
		if err != nil {
			return err
		}
		logrus.WithFields(logrus.Fields{
			"grid":   g.String(),
			"pixels": g.Size(),
		}).Info("created sampling")
		return g.WriteToShp(Cfg.GetString("OutputDir"))
	},
	DisableAutoGenTag: true,
}

// remapCmd is a command that builds the pooling and unpooling operator
// pair for one pair of samplings.
var remapCmd = &cobra.Command{
	Use:   "remap",
	Short: "Build operators for one pair of samplings",
	Long: `remap computes the conservative interpolation matrix from SrcGrid
to DstGrid using the external remapping executable, derives the pooling
and unpooling operator pair, reports diagnostics, and saves the pair as
a gob file in OutputDir.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		src, err := parseGrid(Cfg.GetString("SrcGrid"))
		if err != nil {
			return err
		}
		dst, err := parseGrid(Cfg.GetString("DstGrid"))
		if err != nil {
			return err
		}
		b, err := builderFromCfg(Cfg)
		if err != nil {
			return err
		}
		ctx := context.Background()
		m, err := b.Matrix(ctx, src, dst)
		if err != nil {
			return err
		}
		pool, unpool, err := m.Operators(b.Tolerance)
		if err != nil {
			return err
		}
		logOperatorDiagnostics(m, pool, unpool)
		return saveOperatorFile(Cfg.GetString("OutputDir"), pool, unpool)
	},
	DisableAutoGenTag: true,
}

// hierarchyCmd is a command that builds a full pooling hierarchy.
var hierarchyCmd = &cobra.Command{
	Use:   "hierarchy",
	Short: "Build a multi-level pooling hierarchy",
	Long: `hierarchy computes interpolation matrices and operator pairs for
each adjacent pair in the fine-to-coarse list of samplings given by
Levels, reports diagnostics per transition (including the deviation of
chained pooling from direct pooling across the full span), and saves
each operator pair as a gob file in OutputDir.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		levelSpecs, err := cast.ToStringSliceE(Cfg.Get("Levels"))
		if err != nil {
			return fmt.Errorf("spheremap: reading 'Levels': %v", err)
		}
		grids := make([]*spheremap.SphereGrid, len(levelSpecs))
		for i, spec := range levelSpecs {
			if grids[i], err = parseGrid(spec); err != nil {
				return err
			}
		}
		b, err := builderFromCfg(Cfg)
		if err != nil {
			return err
		}
		ctx := context.Background()
		h, err := spheremap.NewHierarchy(ctx, b, grids, b.Tolerance)
		if err != nil {
			return err
		}
		outdir := Cfg.GetString("OutputDir")
		for i := 0; i < h.Levels()-1; i++ {
			logrus.WithFields(logrus.Fields{
				"from": h.Grids[i].String(),
				"to":   h.Grids[i+1].String(),
			}).Info("hierarchy transition")
			logOperatorDiagnostics(h.Matrices[i], h.Pools[i], h.Unpools[i])
			if err := saveOperatorFile(outdir, h.Pools[i], h.Unpools[i]); err != nil {
				return err
			}
		}
		if h.Levels() > 2 {
			dev, err := h.CompareDirect(ctx, b, 0, h.Levels()-1)
			if err != nil {
				return err
			}
			logrus.WithFields(logrus.Fields{
				"from":      h.Grids[0].String(),
				"to":        h.Grids[h.Levels()-1].String(),
				"deviation": dev,
			}).Info("chained vs. direct pooling")
		}
		return nil
	},
	DisableAutoGenTag: true,
}

// parseGrid creates a sampling from its scheme-resolution string form,
// for example 'healpix-4'.
func parseGrid(spec string) (*spheremap.SphereGrid, error) {
	i := strings.LastIndex(spec, "-")
	if i <= 0 || i == len(spec)-1 {
		return nil, fmt.Errorf("spheremap: grid specification %q is not in scheme-resolution form", spec)
	}
	resolution, err := strconv.Atoi(spec[i+1:])
	if err != nil {
		return nil, fmt.Errorf("spheremap: grid specification %q: %v", spec, err)
	}
	return spheremap.NewGrid(spheremap.Scheme(strings.ToLower(spec[:i])), resolution)
}

// builderFromCfg creates a matrix builder from the configuration.
func builderFromCfg(cfg *viper.Viper) (*spheremap.Builder, error) {
	timeout, err := time.ParseDuration(cfg.GetString("RemapTimeout"))
	if err != nil {
		return nil, fmt.Errorf("spheremap: reading 'RemapTimeout': %v", err)
	}
	extraArgs, err := cast.ToStringSliceE(cfg.Get("RemapArgs"))
	if err != nil {
		return nil, fmt.Errorf("spheremap: reading 'RemapArgs': %v", err)
	}
	norm := spheremap.Normalization(strings.ToLower(cfg.GetString("RemapNormalization")))
	switch norm {
	case spheremap.FracArea, spheremap.DestArea:
	default:
		return nil, fmt.Errorf("spheremap: invalid 'RemapNormalization' %q", norm)
	}
	return &spheremap.Builder{
		Remapper: &spheremap.Remapper{
			Command:       cfg.GetString("RemapCommand"),
			ExtraArgs:     extraArgs,
			Normalization: norm,
			Timeout:       timeout,
			Tolerance:     cfg.GetFloat64("Tolerance"),
			KeepFiles:     cfg.GetBool("KeepFiles"),
		},
		Tolerance:       cfg.GetFloat64("Tolerance"),
		CacheDir:        cfg.GetString("CacheDir"),
		MemCacheEntries: cfg.GetInt("MemCacheEntries"),
	}, nil
}

// logOperatorDiagnostics reports the quality measures for one
// transition: matrix degree statistics, the mean mixing fraction, and
// the worst per-pixel round-trip error.
func logOperatorDiagnostics(m *spheremap.InterpMatrix, pool, unpool *spheremap.Operator) {
	ds := m.DegreeStats()
	logrus.WithFields(logrus.Fields{
		"nnz":        ds.NNZ,
		"sparsity":   ds.Sparsity,
		"minDegree":  ds.MinDegree,
		"maxDegree":  ds.MaxDegree,
		"meanDegree": ds.MeanDegree,
	}).Info("matrix degree statistics")
	if mix, err := spheremap.MixingFraction(pool, unpool); err == nil {
		logrus.WithField("mixingFraction", mix).Info("operator mixing")
	}
	if rt, err := spheremap.RoundTripError(pool, unpool); err == nil {
		worst := 0.0
		for _, v := range rt {
			if v > worst {
				worst = v
			}
		}
		logrus.WithField("maxRoundTripError", worst).Info("operator round trip")
	}
}

// saveOperatorFile writes an operator pair to a gob file named after
// the two samplings, for example 'operators_healpix-4_healpix-2.gob'.
func saveOperatorFile(outdir string, pool, unpool *spheremap.Operator) error {
	if err := os.MkdirAll(outdir, os.ModePerm); err != nil {
		return fmt.Errorf("spheremap: creating output directory: %v", err)
	}
	name := fmt.Sprintf("operators_%s_%s.gob", pool.In, pool.Out)
	f, err := os.Create(filepath.Join(outdir, name))
	if err != nil {
		return fmt.Errorf("spheremap: creating operator file: %v", err)
	}
	if err := spheremap.SaveOperators(f, pool, unpool); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("spheremap: closing operator file: %v", err)
	}
	logrus.WithField("file", name).Info("saved operators")
	return nil
}
