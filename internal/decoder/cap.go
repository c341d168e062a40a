package decoder

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"iter"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/dwd-ingest/internal/record"
)

const capNamespace = "urn:oasis:names:tc:emergency:cap:1.2"

type capTag struct {
	tag   string
	field string
}

// capTags maps the language prefix of an info block to the tags read from
// it. Language-neutral fields are read from the English block only.
var capTags = map[string][]capTag{
	"de": {
		{"event", "event_de"},
		{"headline", "headline_de"},
		{"description", "description_de"},
		{"instruction", "instruction_de"},
	},
	"en": {
		{"event", "event_en"},
		{"headline", "headline_en"},
		{"description", "description_en"},
		{"instruction", "instruction_en"},
		{"category", "category"},
		{"responseType", "response_type"},
		{"urgency", "urgency"},
		{"severity", "severity"},
		{"certainty", "certainty"},
		{"effective", "effective"},
		{"onset", "onset"},
		{"expires", "expires"},
	},
}

var (
	capOptional   = map[string]bool{"expires": true}
	capTokens     = []string{"category", "certainty", "response_type", "severity", "urgency"}
	capTimestamps = []string{"effective", "onset", "expires"}
)

// CAP decodes zipped CAP 1.2 weather alerts, one record per alert document.
// Alert records carry an id instead of observation fields.
type CAP struct {
	reporter
	fields []string
}

// NewCAP returns an alert decoder.
func NewCAP(opts Options) *CAP {
	opts = opts.withDefaults()
	d := &CAP{reporter: newReporter(opts, "cap")}
	for _, tags := range capTags {
		for _, t := range tags {
			d.fields = append(d.fields, t.field)
		}
	}
	d.fields = append(d.fields, "event_code")
	return d
}

// ExtraInputs implements Decoder.
func (d *CAP) ExtraInputs(string) (map[string]string, error) { return nil, nil }

// Decode implements Decoder.
func (d *CAP) Decode(path string, _ map[string]string) iter.Seq2[record.Record, error] {
	return func(yield func(record.Record, error) bool) {
		d.logger.Info("parsing", "path", path)
		zr, err := zip.OpenReader(path)
		if err != nil {
			yield(nil, fmt.Errorf("open %s: %w", path, err))
			return
		}
		defer zr.Close()

		for _, member := range zr.File {
			r, err := d.decodeMember(member)
			if err != nil {
				yield(nil, fmt.Errorf("%s in %s: %w", member.Name, path, err))
				return
			}
			if !yield(r, nil) {
				return
			}
		}
	}
}

func (d *CAP) decodeMember(member *zip.File) (record.Record, error) {
	f, err := member.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return d.decodeAlert(f)
}

type capValue struct {
	ValueName string `xml:"valueName"`
	Value     string `xml:"value"`
}

type capElement struct {
	XMLName xml.Name
	Text    string `xml:",chardata"`
}

type capInfo struct {
	Language   string       `xml:"language"`
	EventCodes []capValue   `xml:"eventCode"`
	Areas      []capArea    `xml:"area"`
	Elements   []capElement `xml:",any"`
}

type capArea struct {
	Geocodes []capValue `xml:"geocode"`
}

func (d *CAP) decodeAlert(r io.Reader) (record.Record, error) {
	alert := record.Record{"warn_cell_ids": nil}
	for _, f := range d.fields {
		alert[f] = nil
	}
	infos := 0
	seen := map[string]bool{}

	dec := xml.NewDecoder(r)
	dec.CharsetReader = xmlCharsetReader
	depth := 0
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read alert: %w", err)
		}
		switch t := tok.(type) {
		case xml.EndElement:
			depth--
		case xml.StartElement:
			depth++
			if t.Name.Space != capNamespace || depth != 2 {
				continue
			}
			switch t.Name.Local {
			case "identifier":
				var id string
				if err := dec.DecodeElement(&id, &t); err != nil {
					return nil, fmt.Errorf("decode identifier: %w", err)
				}
				depth--
				id = strings.TrimSpace(id)
				if i := strings.LastIndex(id, "."); i >= 0 {
					id = id[:i]
				}
				if id != "" {
					alert["id"] = id
				}
			case "info":
				var info capInfo
				if err := dec.DecodeElement(&info, &t); err != nil {
					return nil, fmt.Errorf("decode info: %w", err)
				}
				depth--
				if err := d.applyInfo(alert, &info, infos == 0); err != nil {
					return nil, err
				}
				lang, _, _ := strings.Cut(info.Language, "-")
				seen[lang] = true
				infos++
			}
		}
	}
	if !alert.Present("id") {
		return nil, errors.New("alert without identifier")
	}
	if err := checkLanguages(seen); err != nil {
		return nil, err
	}
	if err := sanitizeAlert(alert); err != nil {
		return nil, err
	}
	return alert, nil
}

// applyInfo copies the tags of one info block. Event code and warn cells are
// taken from the first block.
func (d *CAP) applyInfo(alert record.Record, info *capInfo, first bool) error {
	lang, _, _ := strings.Cut(info.Language, "-")
	texts := make(map[string]string, len(info.Elements))
	for _, e := range info.Elements {
		if e.XMLName.Space != capNamespace {
			continue
		}
		if _, seen := texts[e.XMLName.Local]; !seen {
			texts[e.XMLName.Local] = e.Text
		}
	}
	for _, t := range capTags[lang] {
		text, found := texts[t.tag]
		switch {
		case found:
			alert[t.field] = text
		case capOptional[t.field]:
			alert[t.field] = nil
		default:
			return fmt.Errorf("unable to find <%s>", t.tag)
		}
	}
	if !first {
		return nil
	}

	for _, ec := range info.EventCodes {
		if ec.ValueName == "II" {
			code, err := strconv.Atoi(strings.TrimSpace(ec.Value))
			if err != nil {
				return fmt.Errorf("parse event code: %w", err)
			}
			alert["event_code"] = code
			break
		}
	}
	cells := []int{}
	for _, area := range info.Areas {
		for _, gc := range area.Geocodes {
			if gc.ValueName != "WARNCELLID" {
				continue
			}
			id, err := strconv.Atoi(strings.TrimSpace(gc.Value))
			if err != nil {
				return fmt.Errorf("parse warn cell id: %w", err)
			}
			cells = append(cells, id)
		}
	}
	alert["warn_cell_ids"] = cells
	return nil
}

// checkLanguages fails on the first required tag of a language whose info
// block is missing.
func checkLanguages(seen map[string]bool) error {
	for _, lang := range []string{"de", "en"} {
		if seen[lang] {
			continue
		}
		for _, t := range capTags[lang] {
			if !capOptional[t.field] {
				return fmt.Errorf("unable to find <%s>", t.tag)
			}
		}
	}
	return nil
}

// sanitizeAlert lower-cases token fields and parses timestamps.
func sanitizeAlert(alert record.Record) error {
	for _, f := range capTokens {
		if s, ok := alert.String(f); ok {
			alert[f] = strings.ToLower(s)
		}
	}
	for _, f := range capTimestamps {
		s, ok := alert.String(f)
		if !ok {
			continue
		}
		ts, err := time.Parse(time.RFC3339, strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("parse %s: %w", f, err)
		}
		alert[f] = ts.UTC()
	}
	return nil
}
