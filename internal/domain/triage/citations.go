package triage

import (
	"slices"

	"github.com/target/cognitriage-api/internal/domain/model"
)

var staticCitations = []model.Citation{
	{
		Title:    "NIA-AA Research Framework: Toward a biological definition of Alzheimer's disease",
		Source:   "Alzheimers & Dementia (2018)",
		Year:     "2018",
		Link:     "https://doi.org/10.1016/j.jalz.2018.02.018",
		Strength: "high",
	},
	{
		Title:    "Medial temporal atrophy on MRI in normal aging and Alzheimer's disease",
		Source:   "Neurology (1992)",
		Year:     "1992",
		Link:     "https://doi.org/10.1212/WNL.42.1.39",
		Strength: "high",
	},
	{
		Title:    "Hippocampal atrophy in mild cognitive impairment",
		Source:   "Lancet Neurology (2004)",
		Year:     "2004",
		Link:     "https://doi.org/10.1016/S1474-4422(04)00752-3",
		Strength: "moderate",
	},
	{
		Title:    "AAN practice guideline update: Mild cognitive impairment",
		Source:   "Neurology (2018)",
		Year:     "2018",
		Link:     "https://doi.org/10.1212/WNL.0000000000004821",
		Strength: "high",
	},
	{
		Title:    "Hippocampal volume normative data and percentiles",
		Source:   "NeuroImage (2016)",
		Year:     "2016",
		Link:     "https://doi.org/10.1016/j.neuroimage.2016.09.051",
		Strength: "moderate",
	},
}

// StaticCitations returns a copy of the curated fallback citation set.
func StaticCitations() []model.Citation {
	return slices.Clone(staticCitations)
}
