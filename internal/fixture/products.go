package fixture

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/encoding/charmap"
)

// ForecastStation is one MOSMIX placemark. Elements maps element codes to
// their values, one per time step; "-" marks a missing value. An empty
// Coordinates omits the Point element.
type ForecastStation struct {
	WMOID       string
	Name        string
	Coordinates string
	Elements    map[string][]string
	// Order fixes the element order; elements not listed are appended in
	// map order.
	Order []string
}

// MOSMIXDocument renders a KML forecast document the way MOSMIX bulletins
// are laid out, with the DWD extension namespace and a Latin-1 declaration.
func MOSMIXDocument(productID, issueTime string, steps []time.Time, stations []ForecastStation) []byte {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="ISO-8859-1" standalone="yes"?>` + "\n")
	b.WriteString(`<kml:kml xmlns:dwd="https://opendata.dwd.de/weather/lib/pointforecast_dwd_extension_V1_0.xsd" xmlns:gx="http://www.google.com/kml/ext/2.2" xmlns:xal="urn:oasis:names:tc:ciq:xsdschema:xAL:2.0" xmlns:kml="http://www.opengis.net/kml/2.2" xmlns:atom="http://www.w3.org/2005/Atom">` + "\n")
	b.WriteString("<kml:Document>\n<kml:ExtendedData>\n<dwd:ProductDefinition>\n")
	b.WriteString("<dwd:Issuer>Deutscher Wetterdienst</dwd:Issuer>\n")
	fmt.Fprintf(&b, "<dwd:ProductID>%s</dwd:ProductID>\n", productID)
	b.WriteString("<dwd:GeneratingProcess>DWD MOSMIX hourly, Version 1.0</dwd:GeneratingProcess>\n")
	fmt.Fprintf(&b, "<dwd:IssueTime>%s</dwd:IssueTime>\n", issueTime)
	b.WriteString("<dwd:ForecastTimeSteps>\n")
	for _, ts := range steps {
		fmt.Fprintf(&b, "<dwd:TimeStep>%s</dwd:TimeStep>\n", ts.UTC().Format("2006-01-02T15:04:05.000Z"))
	}
	b.WriteString("</dwd:ForecastTimeSteps>\n</dwd:ProductDefinition>\n</kml:ExtendedData>\n")

	for _, st := range stations {
		b.WriteString("<kml:Placemark>\n")
		fmt.Fprintf(&b, "<kml:name>%s</kml:name>\n<kml:description>%s</kml:description>\n", st.WMOID, st.Name)
		b.WriteString("<kml:ExtendedData>\n")
		for _, code := range elementOrder(st) {
			fmt.Fprintf(&b, "<dwd:Forecast dwd:elementName=%q>\n<dwd:value>     %s</dwd:value>\n</dwd:Forecast>\n",
				code, strings.Join(st.Elements[code], "     "))
		}
		b.WriteString("</kml:ExtendedData>\n")
		if st.Coordinates != "" {
			fmt.Fprintf(&b, "<kml:Point>\n<kml:coordinates>%s</kml:coordinates>\n</kml:Point>\n", st.Coordinates)
		}
		b.WriteString("</kml:Placemark>\n")
	}
	b.WriteString("</kml:Document>\n</kml:kml>\n")
	return latin1(b.String())
}

func elementOrder(st ForecastStation) []string {
	seen := make(map[string]bool, len(st.Elements))
	var order []string
	for _, code := range st.Order {
		if _, ok := st.Elements[code]; ok && !seen[code] {
			order = append(order, code)
			seen[code] = true
		}
	}
	for code := range st.Elements {
		if !seen[code] {
			order = append(order, code)
		}
	}
	return order
}

// KMZ wraps a forecast document in the single-member archive MOSMIX ships.
func KMZ(name string, doc []byte) ([]byte, error) {
	return Zip(Member{Name: name, Body: doc})
}

// Entry is a SYNOP {"key", "value"} item.
func Entry(key string, value any) map[string]any {
	return map[string]any{"key": key, "value": value}
}

// SYNOPDocument renders a message tree file with one block holding messages.
// Each message is a list of entries and nested lists.
func SYNOPDocument(messages ...[]any) ([]byte, error) {
	list := make([]any, len(messages))
	for i, m := range messages {
		list[i] = m
	}
	doc := map[string]any{
		"messages": []any{
			[]any{"header", []any{Entry("edition", 4)}, list},
		},
	}
	return json.Marshal(doc)
}

// SYNOPMessage returns a complete message for a station of block 10, with
// the sensor height and time period groups nested the way BUFR decodes them.
func SYNOPMessage(station int, name string, ts time.Time, temperatureK float64) []any {
	return []any{
		Entry("blockNumber", 10),
		Entry("stationNumber", station),
		Entry("stationOrSiteName", name),
		Entry("latitude", 52.13),
		Entry("longitude", 7.7),
		Entry("heightOfStationGroundAboveMeanSeaLevel", 48.0),
		Entry("year", ts.Year()),
		Entry("month", int(ts.Month())),
		Entry("day", ts.Day()),
		Entry("hour", ts.Hour()),
		Entry("minute", ts.Minute()),
		Entry("pressureReducedToMeanSeaLevel", 101650),
		Entry("cloudCoverTotal", 75),
		[]any{
			Entry("heightOfSensorAboveLocalGroundOrDeckOfMarinePlatform", 2),
			Entry("airTemperature", temperatureK),
			Entry("dewpointTemperature", temperatureK-5),
			Entry("relativeHumidity", 70),
		},
		[]any{
			Entry("heightOfSensorAboveLocalGroundOrDeckOfMarinePlatform", 10),
			Entry("airTemperature", 999.0),
		},
		Entry("presentWeather", 61),
		Entry("pastWeather1", 7),
		[]any{
			Entry("timePeriod", -60),
			Entry("totalPrecipitationOrTotalWaterEquivalent", 1.2),
			Entry("totalSunshine", 30),
		},
		[]any{
			Entry("timePeriod", -10),
			Entry("windDirection", 250),
			Entry("windSpeed", 4.1),
			Entry("maximumWindGustSpeed", 9.3),
		},
	}
}

// CurrentColumns are the header columns of a BEOB current observation file.
var CurrentColumns = []string{
	"surface observations",
	"Parameter description",
	"cloud_cover_total",
	"dew_point_temperature_at_2_meter_above_ground",
	"dry_bulb_temperature_at_2_meter_above_ground",
	"global_radiation_last_hour",
	"horizontal_visibility",
	"maximum_wind_speed_last_hour",
	"mean_wind_direction_during_last_10 min_at_10_meters_above_ground",
	"mean_wind_speed_during last_10_min_at_10_meters_above_ground",
	"precipitation_amount_last_hour",
	"present_weather",
	"pressure_reduced_to_mean_sea_level",
	"relative_humidity",
	"total_time_of_sunshine_during_last_hour",
}

// CurrentCSV renders a BEOB file for wmoID. Each row maps column names to
// values; missing columns are written as "---".
func CurrentCSV(wmoID string, rows []map[string]string) []byte {
	var b strings.Builder
	b.WriteString(strings.Join(CurrentColumns, ";") + "\n")
	b.WriteString(wmoID + "_" + strings.Repeat(";", len(CurrentColumns)-1) + "\n")
	b.WriteString("Messstelle;Parameterbeschreibung" + strings.Repeat(";Titel", len(CurrentColumns)-2) + "\n")
	for _, row := range rows {
		cells := make([]string, len(CurrentColumns))
		for i, c := range CurrentColumns {
			if v, ok := row[c]; ok {
				cells[i] = v
			} else {
				cells[i] = "---"
			}
		}
		b.WriteString(strings.Join(cells, ";") + "\n")
	}
	return []byte(b.String())
}

// Table renders a Latin-1 semicolon table. Header names are padded the way
// the climate data center pads them.
func Table(header []string, rows [][]string) []byte {
	var b strings.Builder
	padded := make([]string, len(header))
	for i, h := range header {
		padded[i] = fmt.Sprintf("%4s", h)
	}
	b.WriteString(strings.Join(padded, ";") + ";eor\n")
	for _, row := range rows {
		b.WriteString(strings.Join(row, ";") + ";eor\n")
	}
	return latin1(b.String())
}

// StationPosition is one row of a Metadaten_Geographie file.
type StationPosition struct {
	From   string
	To     string
	Lat    float64
	Lon    float64
	Height float64
	Name   string
}

// StationMetadata renders the Metadaten_Geographie member of station id.
func StationMetadata(id string, positions []StationPosition) Member {
	header := "Stations_id;Stationshoehe;Geogr.Breite;Geogr.Laenge;von_datum;bis_datum;Stationsname\n"
	var b strings.Builder
	b.WriteString(header)
	for _, p := range positions {
		fmt.Fprintf(&b, "%s;%.2f;%.4f;%.4f;%s;%s;%s\n", id, p.Height, p.Lat, p.Lon, p.From, p.To, p.Name)
	}
	return Member{Name: "Metadaten_Geographie_" + id + ".txt", Body: latin1(b.String())}
}

// Alert describes a CAP alert with a German and an English info block.
type Alert struct {
	Identifier  string
	EventDE     string
	EventEN     string
	Category    string
	Severity    string
	Effective   string
	Onset       string
	Expires     string
	EventCode   int
	WarnCellIDs []int
	// OmitHeadline drops the English headline.
	OmitHeadline bool
	// GermanOnly drops the English info block.
	GermanOnly bool
}

// CAPDocument renders a CAP 1.2 alert.
func CAPDocument(a Alert) []byte {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n")
	b.WriteString(`<alert xmlns="urn:oasis:names:tc:emergency:cap:1.2">` + "\n")
	fmt.Fprintf(&b, "<identifier>%s</identifier>\n<sender>opendata@dwd.de</sender>\n<status>Actual</status>\n<msgType>Alert</msgType>\n<scope>Public</scope>\n", a.Identifier)
	langs := []string{"de-DE", "en-GB"}
	if a.GermanOnly {
		langs = langs[:1]
	}
	for _, lang := range langs {
		event, headline := a.EventDE, "Amtliche WARNUNG vor "+a.EventDE
		if lang == "en-GB" {
			event, headline = a.EventEN, "Official WARNING of "+a.EventEN
		}
		fmt.Fprintf(&b, "<info>\n<language>%s</language>\n<category>%s</category>\n<event>%s</event>\n<responseType>Prepare</responseType>\n<urgency>Immediate</urgency>\n<severity>%s</severity>\n<certainty>Likely</certainty>\n",
			lang, a.Category, event, a.Severity)
		fmt.Fprintf(&b, "<eventCode>\n<valueName>PROFILE_VERSION</valueName>\n<value>2.1.11</value>\n</eventCode>\n<eventCode>\n<valueName>II</valueName>\n<value>%d</value>\n</eventCode>\n", a.EventCode)
		fmt.Fprintf(&b, "<effective>%s</effective>\n<onset>%s</onset>\n", a.Effective, a.Onset)
		if a.Expires != "" {
			fmt.Fprintf(&b, "<expires>%s</expires>\n", a.Expires)
		}
		b.WriteString("<senderName>Deutscher Wetterdienst</senderName>\n")
		if lang == "de-DE" || !a.OmitHeadline {
			fmt.Fprintf(&b, "<headline>%s</headline>\n", headline)
		}
		fmt.Fprintf(&b, "<description>%s description</description>\n<instruction>%s instruction</instruction>\n", event, event)
		b.WriteString("<area>\n<areaDesc>Kreis Aachen</areaDesc>\n")
		for _, id := range a.WarnCellIDs {
			fmt.Fprintf(&b, "<geocode>\n<valueName>WARNCELLID</valueName>\n<value>%d</value>\n</geocode>\n", id)
		}
		b.WriteString("</area>\n</info>\n")
	}
	b.WriteString("</alert>\n")
	return []byte(b.String())
}

// RadolanGrid describes a synthetic RADOLAN frame.
type RadolanGrid struct {
	Product   string
	Height    int
	Width     int
	Interval  int
	Precision string
	Nominal   time.Time
	// OffsetMinutes is the VV forecast offset.
	OffsetMinutes int
	// Cell returns the raw value of a cell in file order, row 0 northernmost.
	Cell func(row, col int) uint16
}

// RadolanFrame renders the ASCII header, ETX and little-endian grid.
func RadolanFrame(g RadolanGrid) []byte {
	t := g.Nominal.UTC()
	tail := fmt.Sprintf("VS 3SW   2.28.1PR%5sINT%4dGP%dx%dVV%4dMF 00000002MS 66<asb,boo,ros,hnr,umd,pro,ess,fld,drs,neu,nhb,oft,eis,tur,isn,fbg,mem>",
		g.Precision, g.Interval, g.Height, g.Width, g.OffsetMinutes)
	prefix := g.Product + t.Format("021504") + "10000" + t.Format("0106")
	headerLen := len(prefix) + len("BY") + 10 + len(tail)
	header := fmt.Sprintf("%sBY%10d%s", prefix, 2*g.Height*g.Width+headerLen+1, tail)

	buf := make([]byte, 0, len(header)+1+2*g.Height*g.Width)
	buf = append(buf, header...)
	buf = append(buf, 0x03)
	for row := range g.Height {
		for col := range g.Width {
			buf = binary.LittleEndian.AppendUint16(buf, g.Cell(row, col))
		}
	}
	return buf
}

func latin1(s string) []byte {
	out, err := charmap.ISO8859_1.NewEncoder().String(s)
	if err != nil {
		return []byte(s)
	}
	return []byte(out)
}

// StationEntry is one row of the station list.
type StationEntry struct {
	Name  string
	DWDID string
	Kind  string
	WMOID string
}

// StationList renders the station list page with one eleven-cell table row
// per entry.
func StationList(entries []StationEntry) []byte {
	var b strings.Builder
	b.WriteString("<html><body><table>\n<tr><th>Stationsname</th><th>Stations_ID</th><th>Kennung</th><th>Stations-kennung</th></tr>\n")
	for _, e := range entries {
		cells := []string{e.Name, e.DWDID, e.Kind, e.WMOID, "52.13", "7.70", "48", "Nordrhein-Westfalen", "19890101", "", "Essen"}
		b.WriteString("<tr>")
		for i, c := range cells {
			fmt.Fprintf(&b, `<td headers="t%d">%s</td>`, i, c)
		}
		b.WriteString("</tr>\n")
	}
	b.WriteString("</table></body></html>\n")
	return []byte(b.String())
}
