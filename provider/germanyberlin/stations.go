package germanyberlin

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"github.com/timgluz/rivretrieve/gauge"
	"github.com/timgluz/rivretrieve/normalize"
)

// normalized column names of the station table
const (
	columnID       = "messstellennummer"
	columnName     = "messstellenname"
	columnRiver    = "gewässer"
	columnEasting  = "rechtswert"
	columnNorthing = "hochwert"
)

// headerKey folds "Messstellen- nummer" and friends into a comparable key.
func headerKey(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '-' || r == '\u00ad' {
			return -1
		}
		return unicode.ToLower(r)
	}, s)
}

// GetGaugeIDs scrapes the overview table of all surface water gauges. The
// table carries UTM zone 33N coordinates.
func (f *Fetcher) GetGaugeIDs(ctx context.Context) (*gauge.GaugeCollection, error) {
	if !f.IsReady() {
		return nil, gauge.ErrProviderNotReady
	}

	content, err := f.client.Get(ctx, f.baseURL+"/start.php?anzeige=tabelle_ow&messanzeige=ms_all", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch Wasserportal station table: %w", err)
	}

	reader, err := normalize.HTMLReader(bytes.NewReader(content), "")
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse Wasserportal station table: %v", gauge.ErrMalformedResponse, err)
	}

	table := doc.Find("table").First()
	columns := make(map[string]int)
	table.Find("tr").First().Find("th, td").Each(func(i int, cell *goquery.Selection) {
		columns[headerKey(cell.Text())] = i
	})

	for _, required := range []string{columnID, columnEasting, columnNorthing} {
		if _, ok := columns[required]; !ok {
			return nil, fmt.Errorf("%w: station table lacks column %q", gauge.ErrMalformedResponse, required)
		}
	}

	collection := gauge.NewGaugeCollection(ProviderName)
	table.Find("tr").Each(func(i int, row *goquery.Selection) {
		if i == 0 {
			return
		}

		var cells []string
		row.Find("td").Each(func(_ int, cell *goquery.Selection) {
			cells = append(cells, strings.TrimSpace(cell.Text()))
		})

		get := func(column string) string {
			idx, ok := columns[column]
			if !ok || idx >= len(cells) {
				return ""
			}
			return cells[idx]
		}

		easting, okX := normalize.ParseFloat(get(columnEasting))
		northing, okY := normalize.ParseFloat(get(columnNorthing))
		if get(columnID) == "" || !okX || !okY {
			return
		}

		// eastings are sometimes prefixed with the zone number
		if easting > 1_000_000 {
			easting -= utmZone * 1_000_000
		}

		lat, lon := normalize.UTMToWGS84(utmZone, true, easting, northing)
		if !gauge.ValidLocation(lat, lon) {
			return
		}

		collection.Add(gauge.Gauge{
			ID:        get(columnID),
			Name:      get(columnName),
			River:     get(columnRiver),
			Latitude:  lat,
			Longitude: lon,
			Country:   "DE",
		})
	})

	f.logger.Info("Fetched Wasserportal stations", "count", collection.Len())
	return collection, nil
}
