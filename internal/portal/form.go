package portal

import "github.com/rewired-gh/luftonline/internal/models"

// Hidden postback fields echoed back on every request
const (
	FieldEventTarget     = "__EVENTTARGET"
	FieldEventArgument   = "__EVENTARGUMENT"
	FieldEventValidation = "__EVENTVALIDATION"
	FieldViewState       = "__VIEWSTATE"
	FieldViewStateGen    = "__VIEWSTATEGENERATOR"
	FieldLastFocus       = "__LASTFOCUS"
	FieldScrollX         = "__SCROLLPOSITIONX"
	FieldScrollY         = "__SCROLLPOSITIONY"
)

// trackedFields are scraped from every parsed response into session state
var trackedFields = []string{
	FieldEventValidation,
	FieldViewState,
	FieldViewStateGen,
	FieldScrollX,
	FieldScrollY,
	FieldEventArgument,
	FieldLastFocus,
}

// Business fields and the element ids of their dropdowns
const (
	StationsID    = "ctl00_Inhalt_StationList"
	StationsKey   = "ctl00$Inhalt$StationList"
	SubstancesID  = "ctl00_Inhalt_SchadstoffList"
	SubstancesKey = "ctl00$Inhalt$SchadstoffList"
	AccuracyID    = "ctl00_Inhalt_MwttList"
	AccuracyKey   = "ctl00$Inhalt$MwttList"
	TimeKey       = "ctl00$Inhalt$LetzteList"

	StartDayKey   = "ctl00$Inhalt$AZTag"
	StartMonthKey = "ctl00$Inhalt$AZMonat"
	StartYearKey  = "ctl00$Inhalt$AZJahr"
	EndDayKey     = "ctl00$Inhalt$EZTag"
	EndMonthKey   = "ctl00$Inhalt$EZMonat"
	EndYearKey    = "ctl00$Inhalt$EZJahr"
	DiagramKey    = "ctl00$Inhalt$DiagrammOpt"

	ExportButtonKey   = "ctl00$Inhalt$BtnCsvDown"
	ExportButtonValue = "CSV-Download"
)

// periodFields returns the postback selecting period p. The window starts
// on the 1st of the month and ends on the 1st of the following month.
func periodFields(p models.Period) map[string]string {
	end := p.End()
	return map[string]string{
		FieldEventTarget: TimeKey,
		TimeKey:          "0",
		StartDayKey:      "01",
		StartMonthKey:    p.MonthString(),
		StartYearKey:     p.YearString(),
		EndDayKey:        "01",
		EndMonthKey:      end.MonthString(),
		EndYearKey:       end.YearString(),
		DiagramKey:       "Linie",
	}
}
