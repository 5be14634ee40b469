package env

import (
	"log"
	"strconv"

	z "github.com/Oudwins/zog"
	"github.com/Oudwins/zog/zenv"
)

type EnvStruct struct {
	HOME             string `zog:"HOME"`
	PORT             int    `zog:"CIV_PORT"`
	JENKINS_URL      string `zog:"JENKINS_URL"`
	JENKINS_USERNAME string `zog:"JENKINS_USERNAME"`
	JENKINS_TOKEN    string `zog:"JENKINS_TOKEN"`
	LISTEN_ADDR      string
	LISTEN_PROT      string
	BASE_URL         string
}

var env *EnvStruct

var EnvSchema = z.Struct(z.Shape{
	"HOME":             z.String(),
	"PORT":             z.Int().Default(57877),
	"JENKINS_URL":      z.String().Optional().Trim(),
	"JENKINS_USERNAME": z.String().Optional().Trim(),
	"JENKINS_TOKEN":    z.String().Optional(),
})

func Get() *EnvStruct {
	if env == nil {
		env = &EnvStruct{}
		errs := EnvSchema.Parse(zenv.NewDataProvider(), env)
		if errs != nil {
			log.Fatal("[Civ] Failed to parse environment variables", errs)
		}

		env.LISTEN_PROT = "http://"
		env.LISTEN_ADDR = "localhost:" + strconv.Itoa(env.PORT)
		env.BASE_URL = env.LISTEN_PROT + env.LISTEN_ADDR
	}
	return env
}
