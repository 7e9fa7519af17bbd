// Package domain models Metropolitan Police Service (MPS) recorded crime data
// as published on the London Datastore.
//
// # Data Source
//
// The recorded crime summary dataset at
// https://data.london.gov.uk/dataset/recorded_crime_summary publishes monthly
// counts of notifiable offences at three geographic granularities: borough
// (with a long historical backfile), ward, and LSOA (Lower layer Super Output
// Area, the smallest census geography). Each resource is a wide-format
// spreadsheet: one row per (geography, major category, minor category), one
// column per month.
//
// # Source Data Conventions
//
// Period columns:
//
//	"YYYYMM" six-digit month columns, e.g. "202003" = March 2020. Some
//	vintages instead use "Mon-YY" headers, e.g. "Jan-20". Both are accepted
//	by [ParsePeriod] and resolve to the first day of the month in UTC.
//
// Geography labels:
//
//	Borough names drift across vintages: casing changes, trailing whitespace,
//	"&" vs "and" ("Kensington & Chelsea" vs "Kensington and Chelsea"), and
//	occasional renames. Ward and LSOA rows carry a lookup borough column
//	("LookUp_BoroughName") identifying the parent borough. Non-territorial
//	units (Heathrow/City Airport policing, Aviation Security SO18) appear in
//	some vintages and are excluded from the combined table by policy.
//
// Category labels:
//
//	The MPS changed its offence classification in 2021; both the old and new
//	major/minor category sets occur across the backfile, along with
//	abbreviated variants ("Theft Or Unauth Taking Of A Motor Veh"). The alias
//	maps translate every observed variant onto one canonical, title-cased
//	label so dashboard filters see a single clean distinct-value list.
//
// Counts:
//
//	Non-negative integers. Blank cells mean "not published for that month"
//	and are skipped; zero counts are dropped to match the published combined
//	series, which records only months with at least one offence.
//
// # Vintages
//
// Each resource declares a temporal coverage range on the dataset page. The
// end of that range is the resource's vintage. The merge step replaces a
// stored month only when the incoming vintage is strictly newer, so monthly
// re-scrapes can correct backfilled figures without ever duplicating a
// natural key. See [Merge].
package domain
