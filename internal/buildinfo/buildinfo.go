package buildinfo

var (
	BuildTag string = "v0.0.0"
	Name     string = "driftd"
	Time     string = ""
)

type buildinfo struct{}

func (buildinfo) Tag() string {
	return BuildTag
}

func (buildinfo) Name() string {
	return Name
}

func (buildinfo) Time() string {
	return Time
}

var Info buildinfo
