package location

// CityCoordinates is a representative city position for a timezone.
type CityCoordinates struct {
	Latitude  float64
	Longitude float64
	City      string
}

// timezoneCoords maps IANA timezone names to representative city
// coordinates. This is the last-resort approximation tier; timezones not in
// the table resolve to nothing.
var timezoneCoords = map[string]CityCoordinates{
	"America/New_York":    {40.7128, -74.0060, "New York"},
	"America/Los_Angeles": {34.0522, -118.2437, "Los Angeles"},
	"America/Chicago":     {41.8781, -87.6298, "Chicago"},
	"Europe/London":       {51.5074, -0.1278, "London"},
	"Europe/Paris":        {48.8566, 2.3522, "Paris"},
	"Asia/Tokyo":          {35.6762, 139.6503, "Tokyo"},
	"Asia/Shanghai":       {31.2304, 121.4737, "Shanghai"},
	"Australia/Sydney":    {-33.8688, 151.2093, "Sydney"},
}

// TimezoneCoordinates returns the representative coordinates for a timezone
// name, and whether the timezone is mapped.
func TimezoneCoordinates(tz string) (CityCoordinates, bool) {
	coords, ok := timezoneCoords[tz]
	return coords, ok
}
