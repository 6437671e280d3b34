package normalize

import "math"

// WGS84 ellipsoid and UTM projection constants.
const (
	wgs84A       = 6378137.0
	wgs84F       = 1 / 298.257223563
	utmK0        = 0.9996
	utmFalseE    = 500000.0
	utmFalseN    = 10000000.0
	degPerRadian = 180 / math.Pi
)

// UTMToWGS84 converts UTM easting/northing in meters to latitude and
// longitude in degrees. ETRS89 zones are treated as WGS84.
func UTMToWGS84(zone int, northern bool, easting, northing float64) (float64, float64) {
	e2 := wgs84F * (2 - wgs84F)
	ep2 := e2 / (1 - e2)

	x := easting - utmFalseE
	y := northing
	if !northern {
		y -= utmFalseN
	}

	lon0 := float64(zone-1)*6 - 180 + 3

	m := y / utmK0
	mu := m / (wgs84A * (1 - e2/4 - 3*e2*e2/64 - 5*e2*e2*e2/256))

	e1 := (1 - math.Sqrt(1-e2)) / (1 + math.Sqrt(1-e2))
	phi1 := mu +
		(3*e1/2-27*math.Pow(e1, 3)/32)*math.Sin(2*mu) +
		(21*e1*e1/16-55*math.Pow(e1, 4)/32)*math.Sin(4*mu) +
		(151*math.Pow(e1, 3)/96)*math.Sin(6*mu) +
		(1097*math.Pow(e1, 4)/512)*math.Sin(8*mu)

	sinPhi1 := math.Sin(phi1)
	cosPhi1 := math.Cos(phi1)
	tanPhi1 := math.Tan(phi1)

	n1 := wgs84A / math.Sqrt(1-e2*sinPhi1*sinPhi1)
	t1 := tanPhi1 * tanPhi1
	c1 := ep2 * cosPhi1 * cosPhi1
	r1 := wgs84A * (1 - e2) / math.Pow(1-e2*sinPhi1*sinPhi1, 1.5)
	d := x / (n1 * utmK0)

	lat := phi1 - (n1*tanPhi1/r1)*(d*d/2-
		(5+3*t1+10*c1-4*c1*c1-9*ep2)*math.Pow(d, 4)/24+
		(61+90*t1+298*c1+45*t1*t1-252*ep2-3*c1*c1)*math.Pow(d, 6)/720)

	lon := (d -
		(1+2*t1+c1)*math.Pow(d, 3)/6 +
		(5-2*c1+28*t1-3*c1*c1+8*ep2+24*t1*t1)*math.Pow(d, 5)/120) / cosPhi1

	return lat * degPerRadian, lon0 + lon*degPerRadian
}

// LambertConformal describes a Lambert conformal conic projection with two
// standard parallels, angles in degrees.
type LambertConformal struct {
	SemiMajorAxis  float64
	Flattening     float64
	Parallel1      float64
	Parallel2      float64
	OriginLatitude float64
	CentralLon     float64
	FalseEasting   float64
	FalseNorthing  float64
}

// EstonianLambert is L-EST97 (EPSG:3301) on the GRS80 ellipsoid.
var EstonianLambert = LambertConformal{
	SemiMajorAxis:  6378137.0,
	Flattening:     1 / 298.257222101,
	Parallel1:      59 + 1.0/3,
	Parallel2:      58,
	OriginLatitude: 57.51755393055556,
	CentralLon:     24,
	FalseEasting:   500000,
	FalseNorthing:  6375000,
}

// ToGeographic converts projected x/y in meters to latitude and longitude
// in degrees.
func (p LambertConformal) ToGeographic(x, y float64) (float64, float64) {
	e := math.Sqrt(p.Flattening * (2 - p.Flattening))

	m := func(phi float64) float64 {
		return math.Cos(phi) / math.Sqrt(1-e*e*math.Sin(phi)*math.Sin(phi))
	}
	t := func(phi float64) float64 {
		es := e * math.Sin(phi)
		return math.Tan(math.Pi/4-phi/2) / math.Pow((1-es)/(1+es), e/2)
	}

	phi1 := p.Parallel1 / degPerRadian
	phi2 := p.Parallel2 / degPerRadian
	phi0 := p.OriginLatitude / degPerRadian

	n := (math.Log(m(phi1)) - math.Log(m(phi2))) / (math.Log(t(phi1)) - math.Log(t(phi2)))
	f := m(phi1) / (n * math.Pow(t(phi1), n))
	rho0 := p.SemiMajorAxis * f * math.Pow(t(phi0), n)

	sign := math.Copysign(1, n)
	dx := x - p.FalseEasting
	dy := rho0 - (y - p.FalseNorthing)
	rho := sign * math.Hypot(dx, dy)
	theta := math.Atan2(sign*dx, sign*dy)

	tt := math.Pow(rho/(p.SemiMajorAxis*f), 1/n)
	phi := math.Pi/2 - 2*math.Atan(tt)
	for i := 0; i < 15; i++ {
		es := e * math.Sin(phi)
		next := math.Pi/2 - 2*math.Atan(tt*math.Pow((1-es)/(1+es), e/2))
		if math.Abs(next-phi) < 1e-12 {
			phi = next
			break
		}
		phi = next
	}

	return phi * degPerRadian, p.CentralLon + theta/n*degPerRadian
}
