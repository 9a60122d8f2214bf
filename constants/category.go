package constants

import (
	"strings"
)

// Category ids group exam results. Values are stored verbatim in result tables.
const (
	LabGerais          = "LabGerais"
	PerfilLipidico     = "PerfilLipidico"
	Hepatico           = "Hepatico"
	Inflamatorios      = "Inflamatorios"
	Hormonais          = "Hormonais"
	Vitaminas          = "Vitaminas"
	Infecciosos        = "Infecciosos"
	MarcadoresTumorais = "MarcadoresTumorais"
	Cardiacos          = "Cardiacos"
	Imagem             = "Imagem"
	Outros             = "Outros"
)

// DefaultCategory is used when an exam has no category yet.
const DefaultCategory = LabGerais

var allCategories = []string{
	LabGerais,
	PerfilLipidico,
	Hepatico,
	Inflamatorios,
	Hormonais,
	Vitaminas,
	Infecciosos,
	MarcadoresTumorais,
	Cardiacos,
	Imagem,
	Outros,
}

// canonicalExams drives the default layout of each category.
var canonicalExams = map[string][]string{
	LabGerais: {
		"Hemoglobina", "Hematócrito", "Hemácias", "Leucócitos", "Plaquetas",
		"Glicose", "Hemoglobina Glicada", "Ureia", "Creatinina", "Ácido Úrico",
		"Sódio", "Potássio", "Cálcio",
	},
	PerfilLipidico: {
		"Colesterol Total", "HDL", "LDL", "VLDL", "Triglicerídeos", "Não-HDL",
	},
	Hepatico: {
		"TGO", "TGP", "Gama GT", "Fosfatase Alcalina", "Bilirrubina Total",
		"Bilirrubina Direta", "Bilirrubina Indireta", "Albumina",
	},
	Inflamatorios: {
		"PCR", "PCR Ultrassensível", "VHS", "Ferritina", "Fibrinogênio",
	},
	Hormonais: {
		"TSH", "T4 Livre", "T3", "Insulina", "Cortisol", "Testosterona",
		"Estradiol", "Progesterona", "Prolactina", "FSH", "LH",
	},
	Vitaminas: {
		"Vitamina D", "Vitamina B12", "Ácido Fólico", "Ferro Sérico", "Zinco", "Magnésio",
	},
	Infecciosos: {
		"HIV", "HBsAg", "Anti-HCV", "VDRL", "Toxoplasmose IgG", "Toxoplasmose IgM",
		"Rubéola IgG", "Citomegalovírus IgG",
	},
	MarcadoresTumorais: {
		"PSA Total", "PSA Livre", "CEA", "CA 125", "CA 19-9", "CA 15-3", "AFP",
	},
	Cardiacos: {
		"Troponina", "CK-MB", "CPK", "BNP", "NT-proBNP",
	},
	Imagem: {
		"Raio-X", "Ultrassonografia", "Tomografia", "Ressonância Magnética",
		"Eletrocardiograma", "Ecocardiograma", "Mamografia", "Densitometria Óssea",
	},
	Outros: {},
}

func AllCategories() []string {
	out := make([]string, len(allCategories))
	copy(out, allCategories)
	return out
}

func AsStringSlice() []string {
	return AllCategories()
}

// IsKnownCategory reports whether id is one of the fixed category ids.
func IsKnownCategory(id string) bool {
	for _, cat := range allCategories {
		if cat == id {
			return true
		}
	}
	return false
}

// CanonicalExams returns the fixed exam list of a category, or nil for unknown ids.
func CanonicalExams(id string) []string {
	names, ok := canonicalExams[id]
	if !ok {
		return nil
	}
	out := make([]string, len(names))
	copy(out, names)
	return out
}

// IsCanonicalExam matches exam names ignoring case and surrounding whitespace.
func IsCanonicalExam(category, examName string) bool {
	name := strings.TrimSpace(examName)
	if name == "" {
		return false
	}
	for _, c := range canonicalExams[category] {
		if strings.EqualFold(c, name) {
			return true
		}
	}
	return false
}

// Canonicalize maps free text onto a category. It is a hint for exam-level
// category fields only; result table keys are never rewritten with it.
func Canonicalize(input string) (string, bool) {
	if strings.TrimSpace(input) == "" {
		return DefaultCategory, false
	}

	normalized := strings.ToLower(strings.TrimSpace(input))

	synonyms := map[string]string{
		"laboratorio":     LabGerais,
		"laboratório":     LabGerais,
		"hemograma":       LabGerais,
		"lipidograma":     PerfilLipidico,
		"perfil lipídico": PerfilLipidico,
		"perfil lipidico": PerfilLipidico,
		"hepatico":        Hepatico,
		"hepático":        Hepatico,
		"função hepática": Hepatico,
		"hormonal":        Hormonais,
		"tireoide":        Hormonais,
		"vitamina":        Vitaminas,
		"sorologia":       Infecciosos,
		"marcadores":      MarcadoresTumorais,
		"cardiaco":        Cardiacos,
		"cardíaco":        Cardiacos,
		"imagem":          Imagem,
		"exame de imagem": Imagem,
		"outro":           Outros,
	}

	if cat, ok := synonyms[normalized]; ok {
		return cat, true
	}

	for _, cat := range allCategories {
		if normalized == strings.ToLower(cat) {
			return cat, true
		}
	}

	return DefaultCategory, false
}
