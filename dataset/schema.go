// Package dataset loads, validates and cleans the tabular breast-cancer data
// and converts it into gonum matrices for the estimators.
package dataset

import (
	"sort"
	"strconv"
)

// Schema describes the raw input file: its ordered columns and the role of
// each special column.
type Schema struct {
	Columns        []string
	IDColumn       string
	NullableColumn string
	LabelColumn    string
	// LabelMap maps raw class codes to the binary target.
	LabelMap map[int]int
}

// BreastCancerSchema is the layout of the Wisconsin breast-cancer file: an
// identifier, nine 1-10 cytology measurements and the class (2 benign,
// 4 malignant). Bare_Nuclei uses "?" for missing values.
func BreastCancerSchema() Schema {
	return Schema{
		Columns: []string{
			"Sample_code_number",
			"Clump_Thickness",
			"Uniformity_Of_Cell_Size",
			"Uniformity of Cell Shape",
			"Marginal Adhesion",
			"Single_Epithelial_Cell_Size",
			"Bare_Nuclei",
			"Bland_Chromatin",
			"Normal_Nucleoli",
			"Mitoses",
			"Class",
		},
		IDColumn:       "Sample_code_number",
		NullableColumn: "Bare_Nuclei",
		LabelColumn:    "Class",
		LabelMap:       map[int]int{2: 0, 4: 1},
	}
}

// Index returns the position of column name, or -1.
func (s Schema) Index(name string) int {
	for i, c := range s.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// AllowedLabels returns the raw class codes accepted by LabelMap, sorted.
func (s Schema) AllowedLabels() []string {
	codes := make([]int, 0, len(s.LabelMap))
	for k := range s.LabelMap {
		codes = append(codes, k)
	}
	sort.Ints(codes)
	out := make([]string, len(codes))
	for i, c := range codes {
		out[i] = strconv.Itoa(c)
	}
	return out
}
