package scrape

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// USChannel is one upstream SC-QAM channel.
type USChannel struct {
	UCID           int     `json:"ucid"`
	FreqMHz        float64 `json:"freq_mhz"`
	PowerDBmV      float64 `json:"power_dbmv"`
	ChannelType    string  `json:"channel_type"`
	SymbolRateKSym float64 `json:"symbol_rate_ksym"`
	Modulation     string  `json:"modulation"`
}

// DSChannel is one downstream QAM channel.
type DSChannel struct {
	DCID        int     `json:"dcid"`
	FreqMHz     float64 `json:"freq_mhz"`
	PowerDBmV   float64 `json:"power_dbmv"`
	SNRdB       float64 `json:"snr_db"`
	Modulation  string  `json:"modulation"`
	Octets      int64   `json:"octets"`
	Corrected   int64   `json:"corrected"`
	Uncorrected int64   `json:"uncorrected"`
}

// DSOFDMStream is one downstream OFDM (DOCSIS 3.1) stream.
type DSOFDMStream struct {
	DCID               int     `json:"dcid"`
	FFTType            string  `json:"fft_type"`
	ChannelWidthMHz    float64 `json:"channel_width_mhz"`
	SubcarrierCount    int     `json:"subcarrier_count"`
	SubcarrierFirstMHz float64 `json:"subcarrier_first_mhz"`
	SubcarrierLastMHz  float64 `json:"subcarrier_last_mhz"`
	RxMERPilotDB       float64 `json:"rx_mer_pilot_db"`
	RxMERPLCDB         float64 `json:"rx_mer_plc_db"`
	RxMERDataDB        float64 `json:"rx_mer_data_db"`
}

// Status is the parsed channel diagnostics page.
type Status struct {
	US     []USChannel    `json:"us"`
	DS     []DSChannel    `json:"ds"`
	DSOFDM []DSOFDMStream `json:"ds_ofdm"`
}

// parseStatus picks the channel tables out of status_cgi by position:
// downstream QAM is table 0, downstream OFDM is table 2, upstream is
// table 4. The page carries no usable ids or classes, so position is
// all there is. A missing table yields an empty section, matching the
// firmware variants that omit it.
func parseStatus(page []byte) (*Status, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, err
	}
	tables := doc.Find("table")

	st := &Status{}
	if tables.Length() > 0 {
		if st.DS, err = parseDownstreamTable(tables.Eq(0)); err != nil {
			return nil, err
		}
	}
	if tables.Length() > 2 {
		if st.DSOFDM, err = parseOFDMTable(tables.Eq(2)); err != nil {
			return nil, err
		}
	}
	if tables.Length() > 4 {
		if st.US, err = parseUpstreamTable(tables.Eq(4)); err != nil {
			return nil, err
		}
	}
	return st, nil
}

// rowCells flattens one tr into trimmed cell texts (td and th alike).
func rowCells(row *goquery.Selection) []string {
	var cells []string
	row.Find("td, th").Each(func(_ int, cell *goquery.Selection) {
		cells = append(cells, strings.TrimSpace(cell.Text()))
	})
	return cells
}

func parseDownstreamTable(table *goquery.Selection) ([]DSChannel, error) {
	var (
		out  []DSChannel
		rerr error
	)
	table.Find("tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		cells := rowCells(row)
		if len(cells) < 9 || cells[1] == "DCID" {
			return true
		}

		ch := DSChannel{Modulation: cells[5]}
		var err error
		if ch.DCID, err = strconv.Atoi(cells[1]); err != nil {
			rerr = fmt.Errorf("downstream dcid %q: %w", cells[1], err)
			return false
		}
		if ch.FreqMHz, err = parseMHz(cells[2]); err != nil {
			rerr = fmt.Errorf("downstream freq: %w", err)
			return false
		}
		if ch.PowerDBmV, err = parseUnit(cells[3], "dBmV"); err != nil {
			rerr = fmt.Errorf("downstream power: %w", err)
			return false
		}
		if ch.SNRdB, err = parseUnit(cells[4], "dB"); err != nil {
			rerr = fmt.Errorf("downstream snr: %w", err)
			return false
		}
		if ch.Octets, err = strconv.ParseInt(cells[6], 10, 64); err != nil {
			rerr = fmt.Errorf("downstream octets %q: %w", cells[6], err)
			return false
		}
		if ch.Corrected, err = strconv.ParseInt(cells[7], 10, 64); err != nil {
			rerr = fmt.Errorf("downstream corrected %q: %w", cells[7], err)
			return false
		}
		if ch.Uncorrected, err = strconv.ParseInt(cells[8], 10, 64); err != nil {
			rerr = fmt.Errorf("downstream uncorrected %q: %w", cells[8], err)
			return false
		}

		out = append(out, ch)
		return true
	})
	return out, rerr
}

func parseOFDMTable(table *goquery.Selection) ([]DSOFDMStream, error) {
	var (
		out  []DSOFDMStream
		rerr error
	)
	table.Find("tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		cells := rowCells(row)
		// Header rows have an empty second cell; data cells here are
		// bare numbers without unit suffixes.
		if len(cells) < 9 || cells[1] == "" {
			return true
		}

		st := DSOFDMStream{FFTType: cells[1]}
		var err error
		if st.DCID, err = strconv.Atoi(strings.ReplaceAll(cells[0], "Downstream ", "")); err != nil {
			rerr = fmt.Errorf("ofdm dcid %q: %w", cells[0], err)
			return false
		}
		fields := []struct {
			dst  *float64
			cell string
			name string
		}{
			{&st.ChannelWidthMHz, cells[2], "width"},
			{&st.SubcarrierFirstMHz, cells[4], "first subcarrier"},
			{&st.SubcarrierLastMHz, cells[5], "last subcarrier"},
			{&st.RxMERPilotDB, cells[6], "rxmer pilot"},
			{&st.RxMERPLCDB, cells[7], "rxmer plc"},
			{&st.RxMERDataDB, cells[8], "rxmer data"},
		}
		for _, f := range fields {
			if *f.dst, err = strconv.ParseFloat(f.cell, 64); err != nil {
				rerr = fmt.Errorf("ofdm %s %q: %w", f.name, f.cell, err)
				return false
			}
		}
		if st.SubcarrierCount, err = strconv.Atoi(cells[3]); err != nil {
			rerr = fmt.Errorf("ofdm subcarrier count %q: %w", cells[3], err)
			return false
		}

		out = append(out, st)
		return true
	})
	return out, rerr
}

func parseUpstreamTable(table *goquery.Selection) ([]USChannel, error) {
	var (
		out  []USChannel
		rerr error
	)
	table.Find("tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		cells := rowCells(row)
		if len(cells) < 7 || cells[1] == "UCID" {
			return true
		}

		ch := USChannel{ChannelType: cells[4], Modulation: cells[6]}
		var err error
		if ch.UCID, err = strconv.Atoi(cells[1]); err != nil {
			rerr = fmt.Errorf("upstream ucid %q: %w", cells[1], err)
			return false
		}
		if ch.FreqMHz, err = parseMHz(cells[2]); err != nil {
			rerr = fmt.Errorf("upstream freq: %w", err)
			return false
		}
		if ch.PowerDBmV, err = parseUnit(cells[3], "dBmV"); err != nil {
			rerr = fmt.Errorf("upstream power: %w", err)
			return false
		}
		if ch.SymbolRateKSym, err = parseKSym(cells[5]); err != nil {
			rerr = fmt.Errorf("upstream symbol rate: %w", err)
			return false
		}

		out = append(out, ch)
		return true
	})
	return out, rerr
}

// splitQuantity breaks a "12.3 MHz" style cell into value and unit.
func splitQuantity(cell string) (float64, string, error) {
	fields := strings.Fields(cell)
	if len(fields) != 2 {
		return 0, "", fmt.Errorf("malformed quantity %q", cell)
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, "", fmt.Errorf("malformed quantity %q: %w", cell, err)
	}
	return v, fields[1], nil
}

// parseMHz normalizes a frequency cell to MHz.
func parseMHz(cell string) (float64, error) {
	v, unit, err := splitQuantity(cell)
	if err != nil {
		return 0, err
	}
	switch unit {
	case "Hz":
		return v / 1e6, nil
	case "kHz", "KHz":
		return v / 1e3, nil
	case "MHz":
		return v, nil
	case "GHz":
		return v * 1e3, nil
	}
	return 0, fmt.Errorf("unexpected frequency unit in %q", cell)
}

// parseKSym normalizes a symbol rate cell to kSym/s.
func parseKSym(cell string) (float64, error) {
	v, unit, err := splitQuantity(cell)
	if err != nil {
		return 0, err
	}
	switch unit {
	case "Sym/s", "sym/s":
		return v / 1e3, nil
	case "kSym/s", "ksym/s", "kSym/sec":
		return v, nil
	case "MSym/s", "Msym/s":
		return v * 1e3, nil
	}
	return 0, fmt.Errorf("unexpected symbol rate unit in %q", cell)
}

// parseUnit reads a cell that must carry exactly the given unit.
func parseUnit(cell, unit string) (float64, error) {
	v, got, err := splitQuantity(cell)
	if err != nil {
		return 0, err
	}
	if got != unit {
		return 0, fmt.Errorf("expected %s in %q", unit, cell)
	}
	return v, nil
}
