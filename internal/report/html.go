package report

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/transit-hubs/internal/stops"
)

// RenderHTML writes a page with a cluster size histogram, a diameter
// distribution and a map-like scatter of cluster positions.
func RenderHTML(w io.Writer, s Summary, clusters []stops.Cluster) error {
	page := components.NewPage()
	page.PageTitle = "Transit hubs"
	page.AddCharts(sizeChart(s), diameterChart(s), positionChart(clusters))
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}

func sizeChart(s Summary) *charts.Bar {
	sizes := make([]int, 0, len(s.SizeHistogram))
	for n := range s.SizeHistogram {
		sizes = append(sizes, n)
	}
	sort.Ints(sizes)
	labels := make([]string, len(sizes))
	data := make([]opts.BarData, len(sizes))
	for i, n := range sizes {
		labels[i] = strconv.Itoa(n)
		data[i] = opts.BarData{Value: s.SizeHistogram[n]}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Cluster sizes",
			Subtitle: fmt.Sprintf("%d clusters, %d of %d stops clustered, mean %.2f", s.Clusters, s.ClusteredStops, s.Stops, s.MeanSize),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "stops", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "clusters"}),
	)
	bar.SetXAxis(labels).AddSeries("clusters", data)
	return bar
}

// diameterBuckets is the histogram bucket width in metres.
const diameterBuckets = 50.0

func diameterChart(s Summary) *charts.Bar {
	counts := make(map[int]int)
	maxBucket := 0
	for _, d := range s.Diameters {
		b := int(d / diameterBuckets)
		counts[b]++
		if b > maxBucket {
			maxBucket = b
		}
	}
	labels := make([]string, maxBucket+1)
	data := make([]opts.BarData, maxBucket+1)
	for b := 0; b <= maxBucket; b++ {
		labels[b] = fmt.Sprintf("%.0f-%.0f", float64(b)*diameterBuckets, float64(b+1)*diameterBuckets)
		data[b] = opts.BarData{Value: counts[b]}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Cluster diameters",
			Subtitle: fmt.Sprintf("median %.0fm, p95 %.0fm, max %.0fm", s.MedianDiameter, s.P95Diameter, s.MaxDiameter),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "metres", NameLocation: "middle", NameGap: 25}),
	)
	bar.SetXAxis(labels).AddSeries("clusters", data)
	return bar
}

func positionChart(clusters []stops.Cluster) *charts.Scatter {
	data := make([]opts.ScatterData, 0, len(clusters))
	for _, c := range clusters {
		data = append(data, opts.ScatterData{Name: string(c.Root), Value: []interface{}{c.Lon, c.Lat, c.Size()}})
	}
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Cluster positions"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "lon", Scale: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "lat", Scale: opts.Bool(true)}),
	)
	scatter.AddSeries("clusters", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}))
	return scatter
}
