package polls

import (
	"time"

	"ukpolls-backend/lib/timezone"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, timezone.Location)
}

// SamplePolls is a small bundled dataset served when the live source
// is unreachable and the cache is empty. Figures are representative,
// not live, and callers are expected to label them as such.
func SamplePolls() []PollRecord {
	return []PollRecord{
		{
			Date: day(2025, time.August, 28), Pollster: "YouGov", SampleSize: 2252,
			Shares: map[Party]float64{
				Conservative: 17, Labour: 21, LiberalDemocrat: 15,
				ReformUK: 27, Green: 10, SNP: 3, Others: 7,
			},
			Methodology: "Online",
		},
		{
			Date: day(2025, time.August, 26), Pollster: "Opinium", SampleSize: 2050,
			Shares: map[Party]float64{
				Conservative: 18, Labour: 22, LiberalDemocrat: 13,
				ReformUK: 28, Green: 9, SNP: 3, Others: 7,
			},
			Methodology: "Online",
		},
		{
			Date: day(2025, time.August, 24), Pollster: "Survation", SampleSize: 1024,
			Shares: map[Party]float64{
				Conservative: 19, Labour: 23, LiberalDemocrat: 13,
				ReformUK: 26, Green: 8, SNP: 3, Others: 8,
			},
			Methodology: "Telephone",
		},
		{
			Date: day(2025, time.August, 22), Pollster: "More in Common", SampleSize: 2008,
			Shares: map[Party]float64{
				Conservative: 18, Labour: 22, LiberalDemocrat: 14,
				ReformUK: 27, Green: 9, SNP: 3, Others: 7,
			},
			Methodology: "Online",
		},
		{
			Date: day(2025, time.August, 20), Pollster: "Ipsos", SampleSize: 1180,
			Shares: map[Party]float64{
				Conservative: 16, Labour: 22, LiberalDemocrat: 14,
				ReformUK: 29, Green: 9, SNP: 3, Others: 7,
			},
			Methodology: "Online",
		},
		{
			Date: day(2025, time.August, 17), Pollster: "Deltapoll", SampleSize: 1550,
			Shares: map[Party]float64{
				Conservative: 18, Labour: 24, LiberalDemocrat: 12,
				ReformUK: 26, Green: 9, SNP: 3, Others: 8,
			},
			Methodology: "Online",
		},
		{
			Date: day(2025, time.August, 15), Pollster: "Techne", SampleSize: 1642,
			Shares: map[Party]float64{
				Conservative: 19, Labour: 23, LiberalDemocrat: 13,
				ReformUK: 27, Green: 8, SNP: 3, Others: 7,
			},
			Methodology: "Online",
		},
	}
}
