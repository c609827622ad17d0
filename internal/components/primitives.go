// Package components is the built-in node catalog: for every biomedical
// primitive it registers term and set data types, interactive input nodes,
// and the term-to-set and set-union processes.
package components

// Primitive is one entity kind users can enter and pass between steps.
type Primitive struct {
	Name        string
	Label       string
	Color       string
	TermExample string
	SetExample  []string
}

// Primitives is the catalog in registration order.
var Primitives = []Primitive{
	{
		Name:        "Gene",
		Label:       "Gene",
		Color:       "#B3CFFF",
		TermExample: "ACE2",
		SetExample:  []string{"UTP14A", "S100A6", "SCAND1", "RRP12", "CIAPIN1", "ADH5", "MTERF3", "SPR", "CHMP4A", "UFM1"},
	},
	{
		Name:        "Drug",
		Label:       "Drug",
		Color:       "#FBE7C6",
		TermExample: "imatinib",
		SetExample:  []string{"ac1ndss5", "adoprazine", "ai-10-49", "alisporivir", "almitrine", "alvocidib", "am 580", "amg-9810"},
	},
	{
		Name:        "Disease",
		Label:       "Disease",
		Color:       "#B4F8C8",
		TermExample: "Diabetic Nephropathy",
	},
	{
		Name:        "Metabolite",
		Label:       "Metabolite",
		Color:       "#A0E7E5",
		TermExample: "Glucose",
	},
	{
		Name:        "Glycan",
		Label:       "Glycan",
		Color:       "#3477b3",
		TermExample: "G17689DH",
		SetExample:  []string{"G49108TO", "G57321FI", "G78059CC", "G55220VL", "G36191CD"},
	},
	{
		Name:  "Pathway",
		Label: "Pathway or Biological Process",
		Color: "#FFAEBC",
	},
	{
		Name:  "Phenotype",
		Label: "Phenotype",
		Color: "#FCB5AC",
	},
	{
		Name:        "Tissue",
		Label:       "Tissue",
		Color:       "#98D7C2",
		TermExample: "Brain",
	},
}

func (p Primitive) TermSpec() string      { return p.Name + "Term" }
func (p Primitive) SetSpec() string       { return p.Name + "Set" }
func (p Primitive) InputTermSpec() string { return "Input" + p.Name }
func (p Primitive) InputSetSpec() string  { return "Input" + p.Name + "Set" }
func (p Primitive) TermToSetSpec() string { return p.Name + "TermToSet" }
func (p Primitive) UnionSpec() string     { return p.Name + "SetUnion" }
