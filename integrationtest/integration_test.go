package integrationtest

import (
	"context"
	"fmt"
	"net"
	"reflect"
	"strconv"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
	"github.com/docker/go-connections/nat"
	"github.com/go-logr/stdr"
	"github.com/petrel-stream/petrel"
	"github.com/petrel-stream/petrel/batch"
	"github.com/petrel-stream/petrel/kafka"
	"github.com/petrel-stream/petrel/local"
	"github.com/petrel-stream/petrel/monoid"
	"github.com/petrel-stream/petrel/pdag"
	"github.com/petrel-stream/petrel/store"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/twmb/franz-go/pkg/kgo"
)

type Broker interface {
	Init() error
	Close() error
	BootstrapServers() []string
}

type RedpandaBroker struct {
	RedpandaVersion  string
	bootstrapServers []string
	testcontainer    testcontainers.Container
}

func (b *RedpandaBroker) Init() error {
	ctx := context.Background()
	port, err := GetFreePort()
	if err != nil {
		return err
	}
	req := testcontainers.ContainerRequest{
		Image:      fmt.Sprintf("docker.vectorized.io/vectorized/redpanda:%s", b.RedpandaVersion),
		WaitingFor: wait.ForLog("Successfully started Redpanda!"),
		User:       "root:root",
		Cmd: []string{
			"redpanda",
			"start",
			"--smp", "1",
			"--reserve-memory", "0M",
			"--overprovisioned",
			"--node-id", "0",
			"--kafka-addr", fmt.Sprintf("OUTSIDE://0.0.0.0:%d", port),
		},
	}

	req.ExposedPorts = []string{
		// Fixed port mapping for kafka
		fmt.Sprintf("%d:%d/tcp", port, port),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return err
	}

	hostIP, err := container.Host(ctx)
	if err != nil {
		return err
	}

	mappedPort, err := container.MappedPort(ctx, nat.Port(fmt.Sprintf("%d", port)))
	if err != nil {
		return err
	}

	b.bootstrapServers = []string{fmt.Sprintf("%s:%d", hostIP, mappedPort.Int())}
	b.testcontainer = container

	return nil
}

func (b *RedpandaBroker) Close() error {
	return b.testcontainer.Terminate(context.Background())
}

func (b *RedpandaBroker) BootstrapServers() []string {
	return b.bootstrapServers
}

// GetFreePort asks the kernel for a free open port that is ready to use.
func GetFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

func TestKafkaSourceToDailySum(t *testing.T) {
	var brokers = []struct {
		name   string
		broker Broker
	}{
		{
			name:   "redpanda",
			broker: &RedpandaBroker{RedpandaVersion: "latest"},
		},
	}

	for _, tc := range brokers {
		t.Run(tc.name, func(t *testing.T) {
			assert.NoError(t, tc.broker.Init())
			defer tc.broker.Close()

			kcl, err := kgo.NewClient(kgo.SeedBrokers(tc.broker.BootstrapServers()...))
			assert.NoError(t, err)
			defer kcl.Close()

			assert.NoError(t, kafka.EnsureTopic(context.Background(), kcl, "orders", 4))
			assert.NoError(t, kafka.EnsureTopic(context.Background(), kcl, "orders-audit", 1))

			day := time.Date(2015, 1, 1, 12, 0, 0, 0, time.UTC)
			for _, rec := range []*kgo.Record{
				{Topic: "orders", Key: []byte("alice"), Value: []byte("10"), Timestamp: day},
				{Topic: "orders", Key: []byte("bob"), Value: []byte("20"), Timestamp: day},
				{Topic: "orders", Key: []byte("alice"), Value: []byte("5"), Timestamp: day},
			} {
				assert.NoError(t, kcl.ProduceSync(context.Background(), rec).FirstErr())
			}

			src, err := kafka.NewSource(tc.broker.BootstrapServers(), "petrel-it", "orders")
			assert.NoError(t, err)

			audit := kafka.NewSink(kcl, "orders-audit", func(v any) ([]byte, []byte, error) {
				kv := v.(pdag.KV)
				return []byte(kv.Key.(string)), []byte(strconv.Itoa(kv.Value.(int))), nil
			})

			daily := batch.Daily()
			mem := store.NewMemory(monoid.Erase(monoid.Sum[int]()))

			b := pdag.NewBuilder()
			b.MustAddSource("orders", pdag.Source(src))
			b.MustAddTransform("parse",
				pdag.Write(audit),
				pdag.Map(func(kv pdag.KV) (pdag.KV, bool) {
					n, err := strconv.Atoi(string(kv.Value.([]byte)))
					if err != nil {
						return pdag.KV{}, false
					}
					return pdag.KV{Key: kv.Key, Value: n}, true
				}),
			)
			b.MustAddAggregation("daily", pdag.SumOf(store.Static(mem), daily, monoid.Sum[int]()))
			b.MustConnect("orders", "parse")
			b.MustConnect("parse", "daily")

			plan, err := petrel.Compile(b.MustBuild(), nil, petrel.WithLogger(stdr.New(nil)))
			assert.NoError(t, err)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			done := make(chan error, 1)
			go func() {
				done <- local.New(plan, local.WithLogger(stdr.New(nil))).Run(ctx)
			}()

			want := map[store.BatchKey]any{
				{Key: "alice", Batch: daily.BatchOf(day)}: 15,
				{Key: "bob", Batch: daily.BatchOf(day)}:   20,
			}

			deadline := time.After(60 * time.Second)
			for !reflect.DeepEqual(mem.Snapshot(), want) {
				select {
				case <-deadline:
					t.Fatalf("store never reached %v, got %v", want, mem.Snapshot())
				case <-time.After(100 * time.Millisecond):
				}
			}

			cancel()
			assert.NoError(t, <-done)
			assert.Equal(t, want, mem.Snapshot())

			// Every parsed record was tapped into the audit topic.
			acl, err := kgo.NewClient(
				kgo.SeedBrokers(tc.broker.BootstrapServers()...),
				kgo.ConsumeTopics("orders-audit"),
			)
			assert.NoError(t, err)
			defer acl.Close()

			audited := 0
			pollCtx, pollCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer pollCancel()
			for audited < 3 {
				fetches := acl.PollFetches(pollCtx)
				assert.NoError(t, pollCtx.Err())
				fetches.EachRecord(func(*kgo.Record) { audited++ })
			}
			assert.Equal(t, 3, audited)
		})
	}
}
