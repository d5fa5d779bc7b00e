package models

// FitRow is one fitted object as reported by the fitting engine. Field
// names follow the engine's JSON output document.
type FitRow struct {
	TargetID string  `json:"targetid"`
	Arms     string  `json:"arms"`     // comma-joined arm setups used in the fit
	Vrad     float64 `json:"vrad"`     // radial velocity, km/s
	VradErr  float64 `json:"vrad_err"` // radial velocity uncertainty, km/s
	Teff     float64 `json:"teff"`     // effective temperature, K
	Logg     float64 `json:"logg"`     // surface gravity, dex
	Feh      float64 `json:"feh"`      // metallicity [Fe/H], dex
	Alpha    float64 `json:"alpha"`    // alpha-element abundance [alpha/Fe], dex
	Vsini    float64 `json:"vsini"`    // rotational broadening, km/s
	Chisq    float64 `json:"chisq"`    // reduced chi-square of the best fit
	SN       float64 `json:"sn"`       // median signal-to-noise of the spectrum
	Success  bool    `json:"success"`
	Error    string  `json:"error,omitempty"`
}

// FitOutput is the JSON document the engine prints on stdout after fitting
// one spectrum file. Engines may emit warnings on stdout before the
// document; parsing starts at the last line that opens a JSON object.
type FitOutput struct {
	File string   `json:"file"`
	Rows []FitRow `json:"rows"`
}

// Succeeded reports whether every row of the output fitted successfully.
func (o *FitOutput) Succeeded() bool {
	if len(o.Rows) == 0 {
		return false
	}
	for _, row := range o.Rows {
		if !row.Success {
			return false
		}
	}
	return true
}

// FailedRows returns the rows the engine could not fit.
func (o *FitOutput) FailedRows() []FitRow {
	var failed []FitRow
	for _, row := range o.Rows {
		if !row.Success {
			failed = append(failed, row)
		}
	}
	return failed
}
