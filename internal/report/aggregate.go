package report

import (
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/spherical/procurement-extractor/internal/domain"
)

// Aggregate report headers.
var (
	SoftwareColumns = []string{"Software", "Districts_Using", "Primary_Vendor", "Total_Cost", "Avg_Cost", "Records_with_Cost", "Rounds"}
	VendorColumns   = []string{"Vendor", "Software_Count", "Districts_Served", "Total_Revenue", "Revenue_Share_Pct", "Records_with_Cost", "Rounds"}
	DistrictColumns = []string{"District", "Software_Count", "Unique_Vendors", "Total_Cost", "Records_with_Cost", "Rounds"}
)

// SoftwareStat is one row of the software popularity report.
type SoftwareStat struct {
	Software        string
	DistrictsUsing  int
	PrimaryVendor   string
	TotalCost       decimal.Decimal
	AvgCost         decimal.NullDecimal
	RecordsWithCost int
	Rounds          []int
}

// VendorStat is one row of the vendor market share report.
type VendorStat struct {
	Vendor          string
	SoftwareCount   int
	DistrictsServed int
	TotalRevenue    decimal.Decimal
	RevenueShare    decimal.Decimal // percent of all documented cost
	RecordsWithCost int
	Rounds          []int
}

// DistrictStat is one row of the district analysis report.
type DistrictStat struct {
	District        string
	SoftwareCount   int
	UniqueVendors   int
	TotalCost       decimal.Decimal
	RecordsWithCost int
	Rounds          []int
}

// Overview holds the headline figures printed after a run.
type Overview struct {
	Records         int
	Districts       int
	Software        int
	Vendors         int
	ByRound         map[int]int
	RecordsWithCost int
	TotalCost       decimal.Decimal
	AvgCost         decimal.NullDecimal
	MedianCost      decimal.NullDecimal
	MaxCost         decimal.NullDecimal
	UseTypes        map[string]int
	HostTypes       map[string]int
}

// Aggregates bundles every derived report.
type Aggregates struct {
	Overview  Overview
	Software  []SoftwareStat
	Vendors   []VendorStat
	Districts []DistrictStat
}

type group struct {
	count     int
	districts map[string]bool
	vendors   map[string]bool
	firstVend string
	total     decimal.Decimal
	withCost  int
	rounds    map[int]bool
}

func newGroup() *group {
	return &group{districts: map[string]bool{}, vendors: map[string]bool{}, rounds: map[int]bool{}}
}

func (g *group) add(r domain.SoftwareRecord) {
	g.count++
	g.districts[r.District] = true
	if r.Vendor != "" {
		g.vendors[r.Vendor] = true
		if g.firstVend == "" {
			g.firstVend = r.Vendor
		}
	}
	if r.CostTotal.Valid {
		g.total = g.total.Add(r.CostTotal.Decimal)
		g.withCost++
	}
	g.rounds[r.Round] = true
}

// groupBy collects records by key, keeping first-seen key order. Records
// with an empty key are ignored.
func groupBy(records []domain.SoftwareRecord, key func(domain.SoftwareRecord) string) ([]string, map[string]*group) {
	var order []string
	groups := make(map[string]*group)
	for _, r := range records {
		k := key(r)
		if k == "" {
			continue
		}
		g, ok := groups[k]
		if !ok {
			g = newGroup()
			groups[k] = g
			order = append(order, k)
		}
		g.add(r)
	}
	return order, groups
}

// Aggregate derives the software, vendor and district reports and the
// overview from records. Costs are summed from Cost_total.
func Aggregate(records []domain.SoftwareRecord) *Aggregates {
	agg := &Aggregates{Overview: overview(records)}

	order, groups := groupBy(records, func(r domain.SoftwareRecord) string { return r.Software })
	for _, k := range order {
		g := groups[k]
		agg.Software = append(agg.Software, SoftwareStat{
			Software:        k,
			DistrictsUsing:  len(g.districts),
			PrimaryVendor:   g.firstVend,
			TotalCost:       g.total,
			AvgCost:         average(g.total, g.withCost),
			RecordsWithCost: g.withCost,
			Rounds:          sortedRounds(g.rounds),
		})
	}
	sort.SliceStable(agg.Software, func(i, j int) bool {
		return agg.Software[i].DistrictsUsing > agg.Software[j].DistrictsUsing
	})

	hundred := decimal.NewFromInt(100)
	order, groups = groupBy(records, func(r domain.SoftwareRecord) string { return r.Vendor })
	for _, k := range order {
		g := groups[k]
		share := decimal.Zero
		if agg.Overview.TotalCost.IsPositive() {
			share = g.total.Mul(hundred).Div(agg.Overview.TotalCost).Round(2)
		}
		agg.Vendors = append(agg.Vendors, VendorStat{
			Vendor:          k,
			SoftwareCount:   g.count,
			DistrictsServed: len(g.districts),
			TotalRevenue:    g.total,
			RevenueShare:    share,
			RecordsWithCost: g.withCost,
			Rounds:          sortedRounds(g.rounds),
		})
	}
	sort.SliceStable(agg.Vendors, func(i, j int) bool {
		return agg.Vendors[i].SoftwareCount > agg.Vendors[j].SoftwareCount
	})

	order, groups = groupBy(records, func(r domain.SoftwareRecord) string { return r.District })
	for _, k := range order {
		g := groups[k]
		agg.Districts = append(agg.Districts, DistrictStat{
			District:        k,
			SoftwareCount:   g.count,
			UniqueVendors:   len(g.vendors),
			TotalCost:       g.total,
			RecordsWithCost: g.withCost,
			Rounds:          sortedRounds(g.rounds),
		})
	}
	sort.SliceStable(agg.Districts, func(i, j int) bool {
		return agg.Districts[i].SoftwareCount > agg.Districts[j].SoftwareCount
	})

	return agg
}

func overview(records []domain.SoftwareRecord) Overview {
	ov := Overview{
		Records:   len(records),
		ByRound:   map[int]int{},
		UseTypes:  map[string]int{},
		HostTypes: map[string]int{},
	}

	districts, software, vendors := map[string]bool{}, map[string]bool{}, map[string]bool{}
	var costs []decimal.Decimal
	for _, r := range records {
		districts[r.District] = true
		if r.Software != "" {
			software[r.Software] = true
		}
		if r.Vendor != "" {
			vendors[r.Vendor] = true
		}
		ov.ByRound[r.Round]++
		if r.UseType != "" {
			ov.UseTypes[string(r.UseType)]++
		}
		if r.HostType != "" {
			ov.HostTypes[string(r.HostType)]++
		}
		if r.CostTotal.Valid {
			costs = append(costs, r.CostTotal.Decimal)
			ov.TotalCost = ov.TotalCost.Add(r.CostTotal.Decimal)
		}
	}
	ov.Districts = len(districts)
	ov.Software = len(software)
	ov.Vendors = len(vendors)
	ov.RecordsWithCost = len(costs)

	if len(costs) > 0 {
		sort.Slice(costs, func(i, j int) bool { return costs[i].LessThan(costs[j]) })
		ov.AvgCost = average(ov.TotalCost, len(costs))
		ov.MaxCost = decimal.NewNullDecimal(costs[len(costs)-1])
		mid := len(costs) / 2
		median := costs[mid]
		if len(costs)%2 == 0 {
			median = costs[mid-1].Add(costs[mid]).Div(decimal.NewFromInt(2))
		}
		ov.MedianCost = decimal.NewNullDecimal(median)
	}
	return ov
}

func average(total decimal.Decimal, n int) decimal.NullDecimal {
	if n == 0 {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(total.Div(decimal.NewFromInt(int64(n))).Round(2))
}

func sortedRounds(set map[int]bool) []int {
	out := make([]int, 0, len(set))
	for r := range set {
		out = append(out, r)
	}
	sort.Ints(out)
	return out
}

// formatRounds renders rounds as "1;3".
func formatRounds(rounds []int) string {
	parts := make([]string, len(rounds))
	for i, r := range rounds {
		parts[i] = strconv.Itoa(r)
	}
	return strings.Join(parts, ";")
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func optMoney(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return money(d.Decimal)
}

func softwareRows(stats []SoftwareStat) [][]string {
	rows := make([][]string, 0, len(stats))
	for _, s := range stats {
		rows = append(rows, []string{
			s.Software,
			strconv.Itoa(s.DistrictsUsing),
			s.PrimaryVendor,
			money(s.TotalCost),
			optMoney(s.AvgCost),
			strconv.Itoa(s.RecordsWithCost),
			formatRounds(s.Rounds),
		})
	}
	return rows
}

func vendorRows(stats []VendorStat) [][]string {
	rows := make([][]string, 0, len(stats))
	for _, v := range stats {
		rows = append(rows, []string{
			v.Vendor,
			strconv.Itoa(v.SoftwareCount),
			strconv.Itoa(v.DistrictsServed),
			money(v.TotalRevenue),
			v.RevenueShare.StringFixed(2),
			strconv.Itoa(v.RecordsWithCost),
			formatRounds(v.Rounds),
		})
	}
	return rows
}

func districtRows(stats []DistrictStat) [][]string {
	rows := make([][]string, 0, len(stats))
	for _, d := range stats {
		rows = append(rows, []string{
			d.District,
			strconv.Itoa(d.SoftwareCount),
			strconv.Itoa(d.UniqueVendors),
			money(d.TotalCost),
			strconv.Itoa(d.RecordsWithCost),
			formatRounds(d.Rounds),
		})
	}
	return rows
}
