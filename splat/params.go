package splat

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Params bundles every parameter of the count model: global dimensions, the
// seed, and the per-component distribution parameters. Fields are exported
// for construction and YAML round-tripping; validated mutation goes through
// With, and Validate checks a whole bundle before simulation.
type Params struct {
	NGenes     int   `yaml:"n_genes"`
	NCells     int   `yaml:"n_cells"`
	GroupCells []int `yaml:"group_cells,omitempty"`
	BatchCells []int `yaml:"batch_cells,omitempty"`
	Seed       int64 `yaml:"seed"`

	Mean    MeanParams    `yaml:"mean"`
	Lib     LibParams     `yaml:"lib"`
	Out     OutlierParams `yaml:"outlier"`
	BCV     BCVParams     `yaml:"bcv"`
	Dropout DropoutParams `yaml:"dropout"`
	Batch   BatchParams   `yaml:"batch"`
}

// MeanParams is the gamma distribution underlying base gene expression means.
type MeanParams struct {
	Shape float64 `yaml:"shape"`
	Rate  float64 `yaml:"rate"`
}

// LibParams is the log-normal distribution of expected library sizes.
type LibParams struct {
	Loc   float64 `yaml:"loc"`
	Scale float64 `yaml:"scale"`
}

// OutlierParams controls expression outlier genes. FacLoc and FacScale
// parameterize the log-normal factor distribution; while both are nil,
// outlier sampling is disabled and Prob is ignored.
type OutlierParams struct {
	Prob     float64  `yaml:"prob"`
	FacLoc   *float64 `yaml:"fac_loc,omitempty"`
	FacScale *float64 `yaml:"fac_scale,omitempty"`
}

// BCVParams controls the biological coefficient of variation. DF may be +Inf,
// meaning no gene-to-gene dispersion variability.
type BCVParams struct {
	Common float64 `yaml:"common"`
	DF     float64 `yaml:"df"`
}

// DropoutParams is the logistic zero-inflation curve. Mid and Shape only
// take effect when Present is true.
type DropoutParams struct {
	Present bool    `yaml:"present"`
	Mid     float64 `yaml:"mid"`
	Shape   float64 `yaml:"shape"`
}

// BatchParams is the log-normal batch factor distribution, applied only when
// BatchCells configures more than one batch.
type BatchParams struct {
	FacLoc   float64 `yaml:"fac_loc"`
	FacScale float64 `yaml:"fac_scale"`
}

// NewParams returns the default parameter set. Outlier factor fields start
// unset; everything else carries a usable default, so NewParams output
// simulates as-is.
func NewParams() Params {
	return Params{
		NGenes: 10000,
		NCells: 100,
		Seed:   42,
		Mean:   MeanParams{Shape: 0.6, Rate: 0.3},
		Lib:    LibParams{Loc: 11, Scale: 0.2},
		Out:    OutlierParams{Prob: 0.05},
		BCV:    BCVParams{Common: 0.1, DF: 60},
		Dropout: DropoutParams{
			Present: false,
			Mid:     0,
			Shape:   -1,
		},
		Batch: BatchParams{FacLoc: 0.1, FacScale: 0.1},
	}
}

// Update is a partial assignment applied by Params.With. Nil fields are left
// alone. GroupCells and BatchCells use an empty non-nil slice to clear the
// partition.
type Update struct {
	NGenes     *int
	NCells     *int
	GroupCells []int
	BatchCells []int
	Seed       *int64

	MeanShape *float64
	MeanRate  *float64

	LibLoc   *float64
	LibScale *float64

	OutProb     *float64
	OutFacLoc   *float64
	OutFacScale *float64

	BCVCommon *float64
	BCVDF     *float64

	DropoutPresent *bool
	DropoutMid     *float64
	DropoutShape   *float64

	BatchFacLoc   *float64
	BatchFacScale *float64
}

// With returns a copy of p with the update applied. A rejected field returns
// a *ParameterDomainError naming it, and p itself is never modified.
//
// Cell partitions interact with n_cells: setting group_cells or batch_cells
// derives n_cells from the partition sum, while setting n_cells directly
// drops any partition that no longer adds up to the new value.
func (p Params) With(u Update) (Params, error) {
	if u.NGenes != nil {
		if *u.NGenes < 1 {
			return Params{}, domainErr("n_genes", *u.NGenes, "must be at least 1")
		}
		p.NGenes = *u.NGenes
	}
	if u.Seed != nil {
		p.Seed = *u.Seed
	}

	if u.MeanShape != nil {
		if err := checkPositive("mean.shape", *u.MeanShape); err != nil {
			return Params{}, err
		}
		p.Mean.Shape = *u.MeanShape
	}
	if u.MeanRate != nil {
		if err := checkPositive("mean.rate", *u.MeanRate); err != nil {
			return Params{}, err
		}
		p.Mean.Rate = *u.MeanRate
	}

	if u.LibLoc != nil {
		if err := checkFinite("lib.loc", *u.LibLoc); err != nil {
			return Params{}, err
		}
		p.Lib.Loc = *u.LibLoc
	}
	if u.LibScale != nil {
		if err := checkNonNegative("lib.scale", *u.LibScale); err != nil {
			return Params{}, err
		}
		p.Lib.Scale = *u.LibScale
	}

	if u.OutProb != nil {
		if err := checkProb("outlier.prob", *u.OutProb); err != nil {
			return Params{}, err
		}
		p.Out.Prob = *u.OutProb
	}
	if u.OutFacLoc != nil {
		if err := checkFinite("outlier.fac_loc", *u.OutFacLoc); err != nil {
			return Params{}, err
		}
		v := *u.OutFacLoc
		p.Out.FacLoc = &v
	}
	if u.OutFacScale != nil {
		if err := checkNonNegative("outlier.fac_scale", *u.OutFacScale); err != nil {
			return Params{}, err
		}
		v := *u.OutFacScale
		p.Out.FacScale = &v
	}

	if u.BCVCommon != nil {
		if err := checkPositive("bcv.common", *u.BCVCommon); err != nil {
			return Params{}, err
		}
		p.BCV.Common = *u.BCVCommon
	}
	if u.BCVDF != nil {
		v := *u.BCVDF
		if math.IsNaN(v) || v <= 0 || math.IsInf(v, -1) {
			return Params{}, domainErr("bcv.df", v, "must be positive (+Inf allowed)")
		}
		p.BCV.DF = v
	}

	if u.DropoutPresent != nil {
		p.Dropout.Present = *u.DropoutPresent
	}
	if u.DropoutMid != nil {
		if err := checkFinite("dropout.mid", *u.DropoutMid); err != nil {
			return Params{}, err
		}
		p.Dropout.Mid = *u.DropoutMid
	}
	if u.DropoutShape != nil {
		if err := checkFinite("dropout.shape", *u.DropoutShape); err != nil {
			return Params{}, err
		}
		p.Dropout.Shape = *u.DropoutShape
	}

	if u.BatchFacLoc != nil {
		if err := checkFinite("batch.fac_loc", *u.BatchFacLoc); err != nil {
			return Params{}, err
		}
		p.Batch.FacLoc = *u.BatchFacLoc
	}
	if u.BatchFacScale != nil {
		if err := checkNonNegative("batch.fac_scale", *u.BatchFacScale); err != nil {
			return Params{}, err
		}
		p.Batch.FacScale = *u.BatchFacScale
	}

	return p.withPartitions(u)
}

// withPartitions applies the n_cells / group_cells / batch_cells subset of an
// update. Runs last so the conflict checks see the scalar fields already
// applied.
func (p Params) withPartitions(u Update) (Params, error) {
	groups := u.GroupCells
	batches := u.BatchCells
	if len(groups) > 0 && len(batches) > 0 && sumInts(groups) != sumInts(batches) {
		return Params{}, domainErr("group_cells", groups, "sum conflicts with batch_cells")
	}

	if groups != nil {
		if len(groups) == 0 {
			p.GroupCells = nil
		} else {
			for i, n := range groups {
				if n < 1 {
					return Params{}, domainErr(fmt.Sprintf("group_cells[%d]", i), n, "must be at least 1")
				}
			}
			if u.NCells != nil && sumInts(groups) != *u.NCells {
				return Params{}, domainErr("n_cells", *u.NCells, "conflicts with group_cells sum")
			}
			p.GroupCells = append([]int(nil), groups...)
			p.NCells = sumInts(groups)
			if p.BatchCells != nil && sumInts(p.BatchCells) != p.NCells {
				p.BatchCells = nil
			}
		}
	}
	if batches != nil {
		if len(batches) == 0 {
			p.BatchCells = nil
		} else {
			for i, n := range batches {
				if n < 1 {
					return Params{}, domainErr(fmt.Sprintf("batch_cells[%d]", i), n, "must be at least 1")
				}
			}
			if u.NCells != nil && sumInts(batches) != *u.NCells {
				return Params{}, domainErr("n_cells", *u.NCells, "conflicts with batch_cells sum")
			}
			p.BatchCells = append([]int(nil), batches...)
			p.NCells = sumInts(batches)
			if p.GroupCells != nil && sumInts(p.GroupCells) != p.NCells {
				p.GroupCells = nil
			}
		}
	}
	if u.NCells != nil && len(groups) == 0 && len(batches) == 0 {
		if *u.NCells < 1 {
			return Params{}, domainErr("n_cells", *u.NCells, "must be at least 1")
		}
		p.NCells = *u.NCells
		if p.GroupCells != nil && sumInts(p.GroupCells) != p.NCells {
			p.GroupCells = nil
		}
		if p.BatchCells != nil && sumInts(p.BatchCells) != p.NCells {
			p.BatchCells = nil
		}
	}
	return p, nil
}

// Validate checks that the whole parameter set is usable for simulation.
// Violations come back as *InvalidInputError naming the field.
func (p *Params) Validate() error {
	if p.NGenes < 1 {
		return invalidInputf("n_genes must be at least 1, got %d", p.NGenes)
	}
	if p.NCells < 1 {
		return invalidInputf("n_cells must be at least 1, got %d", p.NCells)
	}
	if err := validatePartition("group_cells", p.GroupCells, p.NCells); err != nil {
		return err
	}
	if err := validatePartition("batch_cells", p.BatchCells, p.NCells); err != nil {
		return err
	}
	if err := checkPositive("mean.shape", p.Mean.Shape); err != nil {
		return asInvalidInput(err)
	}
	if err := checkPositive("mean.rate", p.Mean.Rate); err != nil {
		return asInvalidInput(err)
	}
	if err := checkFinite("lib.loc", p.Lib.Loc); err != nil {
		return asInvalidInput(err)
	}
	if err := checkNonNegative("lib.scale", p.Lib.Scale); err != nil {
		return asInvalidInput(err)
	}
	if err := checkProb("outlier.prob", p.Out.Prob); err != nil {
		return asInvalidInput(err)
	}
	if (p.Out.FacLoc == nil) != (p.Out.FacScale == nil) {
		return invalidInputf("outlier.fac_loc and outlier.fac_scale must be set together")
	}
	if p.Out.FacLoc != nil {
		if err := checkFinite("outlier.fac_loc", *p.Out.FacLoc); err != nil {
			return asInvalidInput(err)
		}
		if err := checkNonNegative("outlier.fac_scale", *p.Out.FacScale); err != nil {
			return asInvalidInput(err)
		}
	}
	if err := checkPositive("bcv.common", p.BCV.Common); err != nil {
		return asInvalidInput(err)
	}
	if math.IsNaN(p.BCV.DF) || p.BCV.DF <= 0 || math.IsInf(p.BCV.DF, -1) {
		return invalidInputf("bcv.df must be positive (+Inf allowed), got %v", p.BCV.DF)
	}
	if err := checkFinite("dropout.mid", p.Dropout.Mid); err != nil {
		return asInvalidInput(err)
	}
	if err := checkFinite("dropout.shape", p.Dropout.Shape); err != nil {
		return asInvalidInput(err)
	}
	if err := checkFinite("batch.fac_loc", p.Batch.FacLoc); err != nil {
		return asInvalidInput(err)
	}
	if err := checkNonNegative("batch.fac_scale", p.Batch.FacScale); err != nil {
		return asInvalidInput(err)
	}
	return nil
}

func validatePartition(field string, part []int, nCells int) error {
	if part == nil {
		return nil
	}
	total := 0
	for i, n := range part {
		if n < 1 {
			return invalidInputf("%s[%d] must be at least 1, got %d", field, i, n)
		}
		total += n
	}
	if total != nCells {
		return invalidInputf("%s sums to %d but n_cells is %d", field, total, nCells)
	}
	return nil
}

// LoadParams reads a YAML parameter file. Fields absent from the file keep
// their NewParams defaults; unknown keys are rejected.
func LoadParams(path string) (Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Params{}, fmt.Errorf("reading params: %w", err)
	}
	p := NewParams()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&p); err != nil {
		return Params{}, fmt.Errorf("parsing params: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}

// Save writes the parameters as YAML. The output loads back losslessly,
// including an infinite bcv.df and unset outlier factors.
func (p Params) Save(path string) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding params: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing params: %w", err)
	}
	return nil
}

// Summary returns a human-readable multi-line description.
func (p Params) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "genes: %d  cells: %d  seed: %d\n", p.NGenes, p.NCells, p.Seed)
	if p.GroupCells != nil {
		fmt.Fprintf(&b, "groups:  %v\n", p.GroupCells)
	}
	if p.BatchCells != nil {
		fmt.Fprintf(&b, "batches: %v  (factors loc=%.4g scale=%.4g)\n",
			p.BatchCells, p.Batch.FacLoc, p.Batch.FacScale)
	}
	fmt.Fprintf(&b, "mean:    gamma shape=%.4g rate=%.4g\n", p.Mean.Shape, p.Mean.Rate)
	fmt.Fprintf(&b, "library: log-normal loc=%.4g scale=%.4g\n", p.Lib.Loc, p.Lib.Scale)
	if p.Out.FacLoc != nil && p.Out.FacScale != nil {
		fmt.Fprintf(&b, "outlier: prob=%.4g factors loc=%.4g scale=%.4g\n",
			p.Out.Prob, *p.Out.FacLoc, *p.Out.FacScale)
	} else {
		fmt.Fprintf(&b, "outlier: prob=%.4g factors unset\n", p.Out.Prob)
	}
	fmt.Fprintf(&b, "bcv:     common=%.4g df=%.4g\n", p.BCV.Common, p.BCV.DF)
	fmt.Fprintf(&b, "dropout: present=%t mid=%.4g shape=%.4g\n",
		p.Dropout.Present, p.Dropout.Mid, p.Dropout.Shape)
	return b.String()
}

// --- Field domain checks ---

func checkFinite(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return domainErr(field, v, "must be a finite number")
	}
	return nil
}

func checkPositive(field string, v float64) error {
	if err := checkFinite(field, v); err != nil {
		return err
	}
	if v <= 0 {
		return domainErr(field, v, "must be positive")
	}
	return nil
}

func checkNonNegative(field string, v float64) error {
	if err := checkFinite(field, v); err != nil {
		return err
	}
	if v < 0 {
		return domainErr(field, v, "must be non-negative")
	}
	return nil
}

func checkProb(field string, v float64) error {
	if err := checkFinite(field, v); err != nil {
		return err
	}
	if v < 0 || v > 1 {
		return domainErr(field, v, "must be in [0, 1]")
	}
	return nil
}

// asInvalidInput converts a domain check failure into the error type used at
// simulation boundaries.
func asInvalidInput(err error) error {
	if d, ok := err.(*ParameterDomainError); ok {
		return invalidInputf("%s %s, got %v", d.Field, d.Reason, d.Value)
	}
	return err
}

func sumInts(xs []int) int {
	total := 0
	for _, x := range xs {
		total += x
	}
	return total
}
