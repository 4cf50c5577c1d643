package browser

func init() {
	Register("local", NewLocal)
	Register("chrome", NewChrome)
	Register("firefox", NewFirefox)
	Register("phantomjs", NewPhantomJS)
}

// NewChrome launches chromedriver on its conventional port.
func NewChrome(opts Options) (Browser, error) {
	return newLocal("chrome", "Google Chrome", Options{
		Binary: "chromedriver",
		Args:   []string{"--port={port}"},
		Port:   9515,
		Capabilities: Capabilities{
			"browserName": "chrome",
		},
	}, opts), nil
}

// NewFirefox launches geckodriver on its conventional port.
func NewFirefox(opts Options) (Browser, error) {
	return newLocal("firefox", "Mozilla Firefox", Options{
		Binary: "geckodriver",
		Args:   []string{"--port", "{port}"},
		Port:   4444,
		Capabilities: Capabilities{
			"browserName": "firefox",
		},
	}, opts), nil
}

// NewPhantomJS launches PhantomJS with its GhostDriver endpoint.
func NewPhantomJS(opts Options) (Browser, error) {
	return newLocal("phantomjs", "PhantomJS", Options{
		Binary: "phantomjs",
		Args:   []string{"--webdriver={host}:{port}"},
		Port:   8910,
		Capabilities: Capabilities{
			"browserName": "phantomjs",
		},
	}, opts), nil
}
