package entry

// Framework is a server framework photon knows how to launch.
type Framework struct {
	Name string
	// Adapter is the photon adapter package entries import.
	Adapter string
	// Aliases are legacy adapter packages that still resolve to Name.
	Aliases []string
}

// Specifiers returns every import specifier identifying the framework.
func (f Framework) Specifiers() []string {
	return append([]string{f.Adapter}, f.Aliases...)
}

func framework(name string) Framework {
	return Framework{
		Name:    name,
		Adapter: "@photonjs/" + name,
		Aliases: []string{"vike-node/" + name, "vike-server/" + name},
	}
}

// Frameworks are the recognized server frameworks.
var Frameworks = []Framework{
	framework("express"),
	framework("fastify"),
	framework("hono"),
	framework("h3"),
	framework("elysia"),
	framework("hattip"),
}

// FrameworkNames returns the names of Frameworks in order.
func FrameworkNames() []string {
	names := make([]string, len(Frameworks))
	for i, f := range Frameworks {
		names[i] = f.Name
	}
	return names
}
