package dotenv

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// LoadDotEnvs loads the .env file in the working directory into the process
// environment. A missing file is not an error: deployments configure the
// environment directly and only local runs carry a .env.
func LoadDotEnvs() error {
	if _, err := os.Stat(".env"); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load()
}

// LoadDotEnvsInTests is the test variant of LoadDotEnvs. Go runs tests with
// the package directory as working directory, so walk up a few levels to find
// the repository root .env.
func LoadDotEnvsInTests() error {
	path := ".env"
	for i := 0; i < 5; i++ {
		if _, err := os.Stat(path); err == nil {
			return godotenv.Load(path)
		}
		path = filepath.Join("..", path)
	}
	return nil
}
