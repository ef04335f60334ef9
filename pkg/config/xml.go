// Package config implements the configuration collaborator from
// spec.md §6: a BIB-per-file XML store with a legacy single-file
// fallback, decoded with stdlib encoding/xml (DESIGN.md: no pack repo
// reaches for a third-party XML decoder for plain config decode).
package config

import (
	"encoding/xml"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bibfleet/fleet/pkg/model"
)

// XMLStore loads BibConfigurations from Root, trying Root/bib_<id>.xml
// first and falling back to Root/<LegacyFile> (default "bibs.xml")
// containing <root><bib .../>...</root>.
type XMLStore struct {
	Root       string
	LegacyFile string
}

// NewXMLStore returns a store rooted at dir with the default legacy
// filename.
func NewXMLStore(dir string) *XMLStore {
	return &XMLStore{Root: dir, LegacyFile: "bibs.xml"}
}

// MappingRules satisfies pkg/mapper.RuleSource by loading bibID's
// mapping_rules block.
func (s *XMLStore) MappingRules(bibID string) ([]model.MappingRule, bool) {
	bib, ok := s.LoadBib(bibID)
	if !ok {
		return nil, false
	}
	return bib.MappingRules, true
}

// LoadBib implements spec.md §6's load_bib(bib_id) -> BibConfiguration?.
func (s *XMLStore) LoadBib(bibID string) (model.BibConfiguration, bool) {
	path := filepath.Join(s.Root, formatPortFilename(bibID))
	if data, err := os.ReadFile(path); err == nil {
		var doc xmlBib
		if err := xml.Unmarshal(data, &doc); err == nil {
			return doc.toModel(), true
		}
		return model.BibConfiguration{}, false
	}

	doc, ok := s.loadLegacy()
	if !ok {
		return model.BibConfiguration{}, false
	}
	for _, b := range doc.Bibs {
		if strings.EqualFold(b.ID, bibID) {
			return b.toModel(), true
		}
	}
	return model.BibConfiguration{}, false
}

// ListConfiguredBibs lists every bib_<id>.xml in Root, plus every <bib>
// in the legacy file not already covered by a per-file document.
func (s *XMLStore) ListConfiguredBibs() ([]string, error) {
	seen := map[string]bool{}
	var ids []string

	entries, err := os.ReadDir(s.Root)
	if err == nil {
		for _, e := range entries {
			name := e.Name()
			if strings.HasPrefix(name, "bib_") && strings.HasSuffix(name, ".xml") {
				id := strings.TrimSuffix(strings.TrimPrefix(name, "bib_"), ".xml")
				if !seen[id] {
					seen[id] = true
					ids = append(ids, id)
				}
			}
		}
	}

	if doc, ok := s.loadLegacy(); ok {
		for _, b := range doc.Bibs {
			if !seen[b.ID] {
				seen[b.ID] = true
				ids = append(ids, b.ID)
			}
		}
	}
	return ids, nil
}

func (s *XMLStore) loadLegacy() (xmlRoot, bool) {
	name := s.LegacyFile
	if name == "" {
		name = "bibs.xml"
	}
	data, err := os.ReadFile(filepath.Join(s.Root, name))
	if err != nil {
		return xmlRoot{}, false
	}
	var doc xmlRoot
	if err := xml.Unmarshal(data, &doc); err != nil {
		return xmlRoot{}, false
	}
	return doc, true
}

// --- wire shapes, decoded then translated to pkg/model ---
//
// Unknown elements and attributes are ignored by construction: any field
// not named below is simply dropped by encoding/xml (spec.md §6).

type xmlRoot struct {
	XMLName xml.Name `xml:"root"`
	Bibs    []xmlBib `xml:"bib"`
}

type xmlBib struct {
	ID           string         `xml:"id,attr"`
	UUTs         []xmlUUT       `xml:"uut"`
	MappingRules []xmlMappingRule `xml:"mapping_rules>rule"`
}

type xmlMappingRule struct {
	UUTID              string `xml:"uut_id,attr"`
	ProductDescription string `xml:"product_description,attr"`
	Manufacturer       string `xml:"manufacturer,attr"`
	Serial             string `xml:"serial,attr"`
	Exact              bool   `xml:"exact,attr"`
}

type xmlUUT struct {
	ID    string    `xml:"id,attr"`
	Ports []xmlPort `xml:"port"`
}

type xmlPort struct {
	Number       int            `xml:"number,attr"`
	Protocol     string         `xml:"protocol"`
	Speed        int            `xml:"speed"`
	DataPattern  string         `xml:"data_pattern"`
	ReadTimeoutMs  int          `xml:"read_timeout_ms"`
	WriteTimeoutMs int          `xml:"write_timeout_ms"`
	Handshake    string         `xml:"handshake"`
	Start        []xmlCommand   `xml:"start"`
	Test         []xmlCommand   `xml:"test"`
	Stop         []xmlCommand   `xml:"stop"`
}

type xmlCommand struct {
	Literal           string `xml:",chardata"`
	ContinueOnFailure bool   `xml:"continue_on_failure,attr"`
	TimeoutMs         int    `xml:"timeout_ms,attr"`
	Retries           int    `xml:"retries,attr"`

	ExpectedResponse *xmlPattern        `xml:"expected_response"`
	Levels           *xmlValidationLevels `xml:"validation_levels"`
}

type xmlPattern struct {
	Text  string `xml:",chardata"`
	Regex bool   `xml:"regex,attr"`
}

type xmlValidationLevels struct {
	Warn     *xmlPattern  `xml:"warn"`
	Fail     *xmlPattern  `xml:"fail"`
	Critical *xmlCritical `xml:"critical"`
}

type xmlCritical struct {
	Text            string `xml:",chardata"`
	Regex           bool   `xml:"regex,attr"`
	TriggerHardware bool   `xml:"trigger_hardware,attr"`
}

func (b xmlBib) toModel() model.BibConfiguration {
	out := model.BibConfiguration{BibID: b.ID, UUTs: map[string]model.UUTConfiguration{}}
	for _, u := range b.UUTs {
		ports := map[int]model.PortConfiguration{}
		for _, p := range u.Ports {
			ports[p.Number] = p.toModel()
		}
		out.UUTs[u.ID] = model.UUTConfiguration{UUTID: u.ID, Ports: ports}
	}
	for _, r := range b.MappingRules {
		out.MappingRules = append(out.MappingRules, model.MappingRule{
			UUTID:              r.UUTID,
			ProductDescription: r.ProductDescription,
			Manufacturer:       r.Manufacturer,
			Serial:             r.Serial,
			Exact:              r.Exact,
		})
	}
	return out
}

func (p xmlPort) toModel() model.PortConfiguration {
	return model.PortConfiguration{
		Coordinate:   model.Coordinate{Port: p.Number},
		Protocol:     strings.ToLower(p.Protocol),
		Speed:        p.Speed,
		DataPattern:  p.DataPattern,
		ReadTimeout:  time.Duration(p.ReadTimeoutMs) * time.Millisecond,
		WriteTimeout: time.Duration(p.WriteTimeoutMs) * time.Millisecond,
		Handshake:    parseHandshake(p.Handshake),
		Start:        toSequence(p.Start),
		Test:         toSequence(p.Test),
		Stop:         toSequence(p.Stop),
	}
}

func parseHandshake(s string) model.Handshake {
	switch strings.ToLower(s) {
	case "rtscts":
		return model.HandshakeRTSCTS
	case "xonxoff":
		return model.HandshakeXONXOFF
	default:
		return model.HandshakeNone
	}
}

func toSequence(cmds []xmlCommand) model.CommandSequence {
	seq := model.CommandSequence{Commands: make([]model.ProtocolCommand, 0, len(cmds))}
	for _, c := range cmds {
		seq.Commands = append(seq.Commands, c.toModel())
	}
	return seq
}

func (c xmlCommand) toModel() model.ProtocolCommand {
	cmd := model.ProtocolCommand{
		Literal:           strings.TrimSpace(c.Literal),
		Timeout:           time.Duration(c.TimeoutMs) * time.Millisecond,
		Retries:           c.Retries,
		ContinueOnFailure: c.ContinueOnFailure,
	}
	if c.ExpectedResponse != nil {
		cmd.Primary = &model.Pattern{Text: strings.TrimSpace(c.ExpectedResponse.Text), Regex: c.ExpectedResponse.Regex}
	}
	if c.Levels != nil {
		levels := &model.PatternSet{}
		if c.Levels.Warn != nil {
			levels.Warn = &model.Pattern{Text: strings.TrimSpace(c.Levels.Warn.Text), Regex: c.Levels.Warn.Regex}
		}
		if c.Levels.Fail != nil {
			levels.Fail = &model.Pattern{Text: strings.TrimSpace(c.Levels.Fail.Text), Regex: c.Levels.Fail.Regex}
		}
		if c.Levels.Critical != nil {
			levels.Critical = &model.Pattern{Text: strings.TrimSpace(c.Levels.Critical.Text), Regex: c.Levels.Critical.Regex}
			levels.CriticalTriggersHardware = c.Levels.Critical.TriggerHardware
		}
		cmd.Levels = levels
	}
	return cmd
}

// formatPortFilename is the on-disk name LoadBib looks for first.
func formatPortFilename(bibID string) string {
	return "bib_" + bibID + ".xml"
}
