package flag

import "flag"

var (
	ServiceName = flag.String("service", "shutterfeed_core", "name of the running service, used in logs")
)

func ParseFlags() {
	flag.Parse()
}
