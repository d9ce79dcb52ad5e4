package aws

import (
	"context"
	"testing"

	"spot-orchestrator/core/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/pricing"
)

const samplePriceList = `{
  "product": {"attributes": {"instanceType": "c5.xlarge", "regionCode": "us-east-1"}},
  "terms": {
    "OnDemand": {
      "ABC.JRTCKXETXF": {
        "priceDimensions": {
          "ABC.JRTCKXETXF.6YS6EN2CT7": {
            "unit": "Hrs",
            "pricePerUnit": {"USD": "0.1700000000"}
          }
        }
      }
    }
  }
}`

type fakePricing struct {
	calls int
	out   *pricing.GetProductsOutput
}

func (f *fakePricing) GetProducts(_ context.Context, _ *pricing.GetProductsInput, _ ...func(*pricing.Options)) (*pricing.GetProductsOutput, error) {
	f.calls++
	return f.out, nil
}

func TestParseOnDemandPrice(t *testing.T) {
	got, err := parseOnDemandPrice(samplePriceList)
	if err != nil {
		t.Fatalf("parseOnDemandPrice() err=%v", err)
	}
	if got != "0.17" {
		t.Fatalf("parseOnDemandPrice()=%q, want 0.17", got)
	}

	if _, err := parseOnDemandPrice(`{"terms": {"OnDemand": {}}}`); err == nil {
		t.Fatal("parseOnDemandPrice() on empty terms err=nil, want non-nil")
	}
	if _, err := parseOnDemandPrice(`not json`); err == nil {
		t.Fatal("parseOnDemandPrice() on garbage err=nil, want non-nil")
	}
}

func TestSpotMaxPrice_OnDemandCap(t *testing.T) {
	pc := &fakePricing{out: &pricing.GetProductsOutput{PriceList: []string{samplePriceList}}}
	spec := testSpec()
	spec.SpotMaxPrice = SpotMaxPriceOnDemand

	c := NewClientWithAPIs(&fakeEC2{imagesFn: availableImage}, pc, spec)
	for i := 0; i < 2; i++ {
		input, err := c.buildRunInstancesInput(context.Background(), "worker-1", models.NewBootstrap("inputs/t/x", "worker-1"))
		if err != nil {
			t.Fatalf("buildRunInstancesInput() err=%v", err)
		}
		if got := aws.ToString(input.InstanceMarketOptions.SpotOptions.MaxPrice); got != "0.17" {
			t.Fatalf("MaxPrice=%q, want 0.17", got)
		}
	}
	if pc.calls != 1 {
		t.Fatalf("GetProducts called %d times, want 1 (cached)", pc.calls)
	}
}

func TestSpotMaxPrice_Fixed(t *testing.T) {
	spec := testSpec()
	spec.SpotMaxPrice = "0.05"

	c := NewClientWithAPIs(&fakeEC2{imagesFn: availableImage}, nil, spec)
	input, err := c.buildRunInstancesInput(context.Background(), "worker-1", models.NewBootstrap("inputs/t/x", "worker-1"))
	if err != nil {
		t.Fatalf("buildRunInstancesInput() err=%v", err)
	}
	if got := aws.ToString(input.InstanceMarketOptions.SpotOptions.MaxPrice); got != "0.05" {
		t.Fatalf("MaxPrice=%q, want 0.05", got)
	}
}
