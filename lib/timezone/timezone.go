package timezone

import "time"

var Location *time.Location

func init() {
	var err error
	Location, err = time.LoadLocation("Europe/London")
	if err != nil {
		panic(err)
	}
}

// force the timezone to the UK because fieldwork dates on the source
// page carry no zone information, so a server in another region would
// shift <time.Time>.Year()/Month()/Day() across midnight
func Now() time.Time {
	return time.Now().In(Location)
}
