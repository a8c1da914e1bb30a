package chartjs

import (
	"fmt"
	"math"
	"time"
)

// NoOfSlots is the number of half hour intervals on a regular day.
const NoOfSlots = 48

const (
	ColorYellow = "#ffc107d4"
	ColorBlue   = "#2196f3d4"

	PriceAxis = "price"
)

var datasetColors = []string{ColorYellow, ColorBlue}

// NewChart creates a stepped line chart with one label per half hour of the
// day and one empty dataset per name, all on the price axis.
func NewChart(title string, names ...string) Chart {
	labels := make([]string, NoOfSlots)
	for i := 0; i < NoOfSlots; i++ {
		labels[i] = fmt.Sprintf("%02d:%02d", i/2, (i%2)*30)
	}

	datasets := make([]ChartDataset, len(names))
	for i, name := range names {
		datasets[i] = ChartDataset{
			Label:       name,
			Data:        make([]*float64, NoOfSlots),
			BorderWidth: 1,
			Stepped:     true,
			BorderColor: datasetColors[i%len(datasetColors)],
			YAxisID:     PriceAxis,
		}
	}

	chart := Chart{
		Type: "line",
		Data: ChartData{
			Labels:   labels,
			Datasets: datasets,
		},
		Options: ChartOptions{
			Responsive: true,
			Plugins: ChartPlugins{
				Legend: ChartLegend{Display: len(names) > 1},
				Title:  ChartTitle{Display: false},
			},
			Scales: map[string]ChartScale{
				PriceAxis: {
					Type:     "linear",
					Display:  true,
					Position: "left",
					Title:    ChartScaleTitle{Display: true, Text: ""}},
			},
		},
	}

	if title != "" {
		chart.Options.Plugins.Title = ChartTitle{Display: true, Text: title}
	}

	return chart
}

// SlotIndex maps a local HH:MM interval start to its position on the chart.
func SlotIndex(clock string) (int, bool) {
	t, err := time.Parse("15:04", clock)
	if err != nil || t.Minute()%30 != 0 {
		return 0, false
	}
	return t.Hour()*2 + t.Minute()/30, true
}

func (cs ChartScale) WithTitle(title string) ChartScale {
	cs.Title.Text = title
	return cs
}

func (cs ChartScale) WithMinAndMax(min, max float64) ChartScale {
	cs.Min = &min
	cs.Max = &max
	return cs
}

func FixedFloat64(num float64, precision int) *float64 {
	p := math.Pow(10, float64(precision))
	rounded := math.Round(num * p)
	result := rounded / p
	return &result
}
