package domain

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// AliasMap resolves observed label variants onto a closed canonical set.
// The variant table is append-only configuration: schema drift in the source
// is fixed by adding aliases, never by touching parse or merge code.
type AliasMap struct {
	canonical map[string]struct{}
	variants  map[string]string // normalized variant -> canonical
}

// NewAliasMap builds an AliasMap from a canonical set and explicit variants.
// Every canonical label also resolves to itself under normalization, so
// case, whitespace and "&"/"and" drift needs no explicit alias entries.
func NewAliasMap(canonical []string, aliases map[string]string) *AliasMap {
	m := &AliasMap{
		canonical: make(map[string]struct{}, len(canonical)),
		variants:  make(map[string]string, len(canonical)+len(aliases)),
	}
	for _, c := range canonical {
		m.canonical[c] = struct{}{}
		m.variants[NormalizeLabel(c)] = c
	}
	for variant, c := range aliases {
		m.variants[NormalizeLabel(variant)] = c
	}
	return m
}

// Resolve maps a raw label to its canonical form. Exact trimmed matches win;
// otherwise the normalized form is looked up in the variant table.
func (m *AliasMap) Resolve(label string) (string, bool) {
	trimmed := strings.TrimSpace(label)
	if _, ok := m.canonical[trimmed]; ok {
		return trimmed, true
	}
	c, ok := m.variants[NormalizeLabel(label)]
	return c, ok
}

// Contains reports whether the label is itself canonical.
func (m *AliasMap) Contains(label string) bool {
	_, ok := m.canonical[label]
	return ok
}

// Canonicals returns the canonical set, sorted.
func (m *AliasMap) Canonicals() []string {
	out := make([]string, 0, len(m.canonical))
	for c := range m.canonical {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Add appends canonical labels and variants, validating that every variant
// points at a known canonical.
func (m *AliasMap) Add(canonical []string, aliases map[string]string) error {
	for _, c := range canonical {
		m.canonical[c] = struct{}{}
		m.variants[NormalizeLabel(c)] = c
	}
	for variant, c := range aliases {
		if _, ok := m.canonical[c]; !ok {
			return fmt.Errorf("alias %q maps to unknown canonical label %q", variant, c)
		}
		m.variants[NormalizeLabel(variant)] = c
	}
	return nil
}

// NormalizeLabel lowercases, rewrites "&" to "and", strips punctuation and
// collapses runs of whitespace, so that the fuzzy fallback tolerates the
// case/whitespace/ampersand drift seen across dataset vintages.
func NormalizeLabel(label string) string {
	label = strings.ToLower(strings.TrimSpace(label))
	label = strings.ReplaceAll(label, "&", " and ")
	var b strings.Builder
	b.Grow(len(label))
	lastSpace := false
	for _, r := range label {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace && b.Len() > 0 {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// aliasSection is the YAML shape of one alias table.
type aliasSection struct {
	Canonical []string          `yaml:"canonical"`
	Aliases   map[string]string `yaml:"aliases"`
}

// geographyFile is the YAML shape of a geography alias overlay.
type geographyFile struct {
	aliasSection `yaml:",inline"`
	Exclude      []string `yaml:"exclude"`
}

// categoryFile is the YAML shape of a category alias overlay.
type categoryFile struct {
	Major aliasSection `yaml:"major"`
	Minor aliasSection `yaml:"minor"`
}

// LoadGeographyFile overlays a YAML alias file onto the geography map and
// returns any additional excluded labels it declares.
func LoadGeographyFile(path string, m *AliasMap) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read geography aliases: %w", err)
	}
	var f geographyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse geography aliases %s: %w", path, err)
	}
	if err := m.Add(f.Canonical, f.Aliases); err != nil {
		return nil, fmt.Errorf("geography aliases %s: %w", path, err)
	}
	return f.Exclude, nil
}

// LoadCategoryFile overlays a YAML alias file onto the major and minor
// category maps.
func LoadCategoryFile(path string, major, minor *AliasMap) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read category aliases: %w", err)
	}
	var f categoryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse category aliases %s: %w", path, err)
	}
	if err := major.Add(f.Major.Canonical, f.Major.Aliases); err != nil {
		return fmt.Errorf("major category aliases %s: %w", path, err)
	}
	if err := minor.Add(f.Minor.Canonical, f.Minor.Aliases); err != nil {
		return fmt.Errorf("minor category aliases %s: %w", path, err)
	}
	return nil
}

// DefaultGeographyAliases returns the 32 London boroughs plus the City of
// London. Name drift (ampersands, casing, whitespace) is handled by the
// normalized fallback, so no explicit variants ship by default.
func DefaultGeographyAliases() *AliasMap {
	return NewAliasMap([]string{
		"Barking and Dagenham",
		"Barnet",
		"Bexley",
		"Brent",
		"Bromley",
		"Camden",
		"City of London",
		"Croydon",
		"Ealing",
		"Enfield",
		"Greenwich",
		"Hackney",
		"Hammersmith and Fulham",
		"Haringey",
		"Harrow",
		"Havering",
		"Hillingdon",
		"Hounslow",
		"Islington",
		"Kensington and Chelsea",
		"Kingston upon Thames",
		"Lambeth",
		"Lewisham",
		"Merton",
		"Newham",
		"Redbridge",
		"Richmond upon Thames",
		"Southwark",
		"Sutton",
		"Tower Hamlets",
		"Waltham Forest",
		"Wandsworth",
		"Westminster",
	}, map[string]string{
		"City of Westminster": "Westminster",
	})
}

// DefaultExcludedGeographies lists non-territorial policing units that appear
// in some vintages and are dropped from the combined table by policy.
func DefaultExcludedGeographies() []string {
	return []string{
		"London Heathrow and London City Airports",
		"Aviation Security (SO18)",
	}
}

// DefaultMajorAliases returns the canonical major category set, covering both
// the pre- and post-2021 MPS classification schemes.
func DefaultMajorAliases() *AliasMap {
	return NewAliasMap([]string{
		"Arson And Criminal Damage",
		"Burglary",
		"Criminal Damage",
		"Drug Offences",
		"Drugs",
		"Fraud Or Forgery",
		"Miscellaneous Crimes Against Society",
		"Other Notifiable Offences",
		"Possession Of Weapons",
		"Public Order Offences",
		"Robbery",
		"Sexual Offences",
		"Theft",
		"Theft And Handling",
		"Vehicle Offences",
		"Violence Against The Person",
	}, nil)
}

// DefaultMinorAliases returns the canonical minor category set plus the
// variant spellings observed across dataset vintages.
func DefaultMinorAliases() *AliasMap {
	return NewAliasMap([]string{
		"Arson",
		"Assault With Injury",
		"Bicycle Theft",
		"Burglary Business And Community",
		"Business Robbery",
		"Common Assault",
		"Counterfeiting",
		"Criminal Damage",
		"Dangerous Driving",
		"Domestic Burglary",
		"Drug Trafficking",
		"Going Equipped For Stealing",
		"Handling Stolen Goods",
		"Harassment",
		"Homicide",
		"Interfering With A Motor Vehicle",
		"Money Laundering",
		"Murder",
		"Obscene Publications",
		"Offensive Weapon",
		"Other Offences Against The State, Or Public Order",
		"Other Sexual Offences",
		"Other Theft",
		"Personal Robbery",
		"Possession Of Article With Blade Or Point",
		"Possession Of Drugs",
		"Possession Of Firearms Offences",
		"Public Fear Alarm Or Distress",
		"Racially Or Religiously Aggravated Public Fear, Al",
		"Rape",
		"Residential",
		"Robbery Of Business Property",
		"Robbery Of Personal Property",
		"Shoplifting",
		"Theft From A Motor Vehicle",
		"Theft From Person",
		"Theft From Shops",
		"Theft Or Taking Of A Motor Vehicle",
		"Violence With Injury",
		"Violence Without Injury",
		"Violent Disorder",
	}, map[string]string{
		"Theft From The Person":                 "Theft From Person",
		"Theft From A Vehicle":                  "Theft From A Motor Vehicle",
		"Theft Or Unauth Taking Of A Motor Veh": "Theft Or Taking Of A Motor Vehicle",
		"Burglary In A Dwelling":                "Domestic Burglary",
		"Burglary - Residential":                "Domestic Burglary",
		"Burglary Non-Dwelling":                 "Burglary Business And Community",
		"Trafficking Of Drugs":                  "Drug Trafficking",
		"Race Or Religious Agg Public Fear":     "Racially Or Religiously Aggravated Public Fear, Al",
		"Other Offences Public Order":           "Other Offences Against The State, Or Public Order",
	})
}
