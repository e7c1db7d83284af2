package setup

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/centrifuge/go-substrate-rpc-client/v4/signature"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/joho/godotenv"
	"github.com/subtrahend-labs/gobt/client"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const U16MAX = 65535

type Dependencies struct {
	Log    *zap.SugaredLogger
	Env    Env
	Client *client.Client
	Hotkey signature.KeyringPair
	Mongo  *mongo.Client
}

type Env struct {
	HotkeyPhrase  string
	ChainEndpoint string
	Netuid        int
	HostIP        string
	Port          int
	ExternalIP    string
	ExternalPort  int
	MaxWorkers    int
	SyncInterval  time.Duration
	PollInterval  time.Duration
	Version       types.U64
	Debug         bool
}

func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func GetEnvOrPanic(key string, logger *zap.SugaredLogger) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	logger.Panicf("Could not find env key [%s]", key)
	return ""
}

func Init(opts ...any) *Dependencies {
	var level *zapcore.Level
	if len(opts) != 0 {
		l := opts[0].(zapcore.Level)
		level = &l
	}
	// Startup
	cfg := zap.NewProductionConfig()
	cfg.Sampling = nil
	if level != nil {
		cfg.Level.SetLevel(*level)
	}
	logger, err := cfg.Build()
	if err != nil {
		panic("Failed to get logger")
	}
	sugar := logger.Sugar()

	// Env Variables
	err = godotenv.Load()
	if err != nil {
		sugar.Fatalw("Error loading .env file", err)
	}
	HotkeyPhrase := GetEnvOrPanic("HOTKEY_PHRASE", sugar)
	ChainEndpoint := GetEnv("CHAIN_ENDPOINT", "wss://entrypoint-finney.opentensor.ai:443")
	Version := GetEnvOrPanic("VERSION", sugar)
	Debug := GetEnv("DEBUG", "0")
	HostIP := GetEnv("HOST_IP", "127.0.0.1")
	ExternalIP := GetEnv("EXTERNAL_IP", HostIP)

	netuid, err := strconv.Atoi(GetEnvOrPanic("NETUID", sugar))
	if err != nil {
		sugar.Fatalw("Invalid netuid", "error", err)
	}
	port, err := strconv.Atoi(GetEnv("PORT", "8091"))
	if err != nil {
		sugar.Error("Failed converting env variable PORT to int")
		port = 8091
	}
	externalPort, err := strconv.Atoi(GetEnv("EXTERNAL_PORT", strconv.Itoa(port)))
	if err != nil {
		sugar.Error("Failed converting env variable EXTERNAL_PORT to int")
		externalPort = port
	}
	maxWorkers, err := strconv.Atoi(GetEnv("MAX_WORKERS", "10"))
	if err != nil {
		sugar.Error("Failed converting env variable MAX_WORKERS to int")
		maxWorkers = 10
	}
	syncSecs, err := strconv.Atoi(GetEnv("SYNC_INTERVAL", "30"))
	if err != nil {
		sugar.Error("Failed converting env variable SYNC_INTERVAL to int")
		syncSecs = 30
	}
	pollSecs, err := strconv.Atoi(GetEnv("POLL_INTERVAL", "12"))
	if err != nil {
		sugar.Error("Failed converting env variable POLL_INTERVAL to int")
		pollSecs = 12
	}

	parsedVer, err := ParseVersion(Version)
	if err != nil {
		sugar.Fatal(err)
	}
	debug := Debug == "1"
	if debug {
		cfg := zap.NewDevelopmentConfig()
		cfg.Sampling = nil
		if level != nil {
			cfg.Level.SetLevel(*level)
		}
		logger, err := cfg.Build()
		if err != nil {
			panic("Failed to get logger")
		}
		sugar = logger.Sugar()
	}

	client, err := client.NewClient(ChainEndpoint)
	if err != nil {
		sugar.Fatalf("Error creating client: %s", err)
	}

	kp, err := signature.KeyringPairFromSecret(HotkeyPhrase, client.Network)
	if err != nil {
		sugar.Fatalw("Failed creating keyring pair", err)
	}

	mongoClient, err := InitMongo()
	if err != nil {
		sugar.Infow("Running without mongo", "reason", err)
	}

	return &Dependencies{
		Log:    sugar,
		Client: client,
		Hotkey: kp,
		Mongo:  mongoClient,
		Env: Env{
			HotkeyPhrase:  HotkeyPhrase,
			ChainEndpoint: ChainEndpoint,
			Netuid:        netuid,
			HostIP:        HostIP,
			Port:          port,
			ExternalIP:    ExternalIP,
			ExternalPort:  externalPort,
			MaxWorkers:    maxWorkers,
			SyncInterval:  time.Duration(syncSecs) * time.Second,
			PollInterval:  time.Duration(pollSecs) * time.Second,
			Version:       *parsedVer,
			Debug:         debug,
		},
	}
}

func ParseVersion(v string) (*types.U64, error) {
	parts := strings.Split(v, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("not a valid version string: %v", v)
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil, fmt.Errorf("not a valid version string: %v", v)
	}
	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("not a valid version string: %v", v)
	}
	patch, err := strconv.Atoi(parts[2])
	if err != nil {
		return nil, fmt.Errorf("not a valid version string: %v", v)
	}
	ver := (major * 10000) + (minor * 100) + patch
	typedVer := types.NewU64(uint64(ver))
	return &typedVer, nil
}
