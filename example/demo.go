package main

import (
	"github.com/jpalmerr/zync/example/mockdeployer"
)

const demoSecret = "demo-secret"

// demoChallenges are served from the start; demoExtra appears after a reload.
var (
	demoChallenges = []mockdeployer.Challenge{
		{Category: "crypto", ChallengeName: "rsa-101"},
		{Category: "pwn", ChallengeName: "stack-smash", FailRate: 0.3},
		{Category: "web", ChallengeName: "login"},
		{Category: "web", ChallengeName: "xss-gallery"},
	}
	demoExtra = []mockdeployer.Challenge{
		{Category: "pwn", ChallengeName: "heap-feng-shui"},
	}
)
