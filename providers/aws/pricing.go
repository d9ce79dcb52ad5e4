package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/pricing"
	"github.com/aws/aws-sdk-go-v2/service/pricing/types"
)

// SpotMaxPriceOnDemand caps spot bids at the on-demand price of the machine type
const SpotMaxPriceOnDemand = "on-demand"

// spotMaxPrice returns the MaxPrice for spot requests, or "" for the AWS default
func (c *Client) spotMaxPrice(ctx context.Context) (string, error) {
	if c.spec.SpotMaxPrice != SpotMaxPriceOnDemand {
		return c.spec.SpotMaxPrice, nil
	}
	return c.OnDemandPrice(ctx, c.spec.MachineType, c.spec.Region)
}

// OnDemandPrice fetches the hourly Linux on-demand USD price from the Pricing API.
// Prices are cached per instance type and region.
func (c *Client) OnDemandPrice(ctx context.Context, instanceType, region string) (string, error) {
	key := instanceType + "/" + region

	c.mu.Lock()
	cached, ok := c.prices[key]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}

	if c.pricingClient == nil {
		return "", fmt.Errorf("pricing client not initialized")
	}

	filter := func(field, value string) types.Filter {
		return types.Filter{
			Type:  types.FilterTypeTermMatch,
			Field: aws.String(field),
			Value: aws.String(value),
		}
	}

	out, err := c.pricingClient.GetProducts(ctx, &pricing.GetProductsInput{
		ServiceCode: aws.String("AmazonEC2"),
		Filters: []types.Filter{
			filter("instanceType", instanceType),
			filter("regionCode", region),
			filter("operatingSystem", "Linux"),
			filter("tenancy", "Shared"),
			filter("preInstalledSw", "NA"),
			filter("capacitystatus", "Used"),
		},
		MaxResults: aws.Int32(10),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get products: %w", err)
	}

	for _, item := range out.PriceList {
		price, err := parseOnDemandPrice(item)
		if err != nil {
			continue
		}
		c.mu.Lock()
		c.prices[key] = price
		c.mu.Unlock()
		return price, nil
	}

	return "", fmt.Errorf("no on-demand price for %s in %s", instanceType, region)
}

type priceListItem struct {
	Terms struct {
		OnDemand map[string]struct {
			PriceDimensions map[string]struct {
				Unit         string            `json:"unit"`
				PricePerUnit map[string]string `json:"pricePerUnit"`
			} `json:"priceDimensions"`
		} `json:"OnDemand"`
	} `json:"terms"`
}

// parseOnDemandPrice extracts the hourly USD price from one Pricing API price list entry
func parseOnDemandPrice(raw string) (string, error) {
	var item priceListItem
	if err := json.Unmarshal([]byte(raw), &item); err != nil {
		return "", fmt.Errorf("failed to parse price list: %w", err)
	}

	for _, term := range item.Terms.OnDemand {
		for _, dim := range term.PriceDimensions {
			if dim.Unit != "" && !strings.EqualFold(dim.Unit, "Hrs") {
				continue
			}
			usd := dim.PricePerUnit["USD"]
			if usd == "" {
				continue
			}
			if strings.Contains(usd, ".") {
				usd = strings.TrimRight(usd, "0")
				usd = strings.TrimSuffix(usd, ".")
			}
			if usd == "" || usd == "0" {
				continue
			}
			return usd, nil
		}
	}
	return "", fmt.Errorf("no hourly USD on-demand price in price list")
}
