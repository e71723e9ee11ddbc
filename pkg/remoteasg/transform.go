package remoteasg

import (
	"context"
	"fmt"
	"net/url"

	"github.com/cuemby/relay/pkg/types"
)

// SecurityGroupResolver translates a security-group name to its id for a
// given region. Names already shaped like an id ("sg-...") pass through
// untouched and this is never called for them.
type SecurityGroupResolver func(ctx context.Context, region, name string) (string, error)

// BuildForm applies the remote service's required parameter transformations
// and flattens the result into form-encoded values, repeating multi-valued
// keys rather than joining them.
func BuildForm(ctx context.Context, region, vpcID string, params types.Parameters, resolveSecurityGroup SecurityGroupResolver) (url.Values, error) {
	form := url.Values{}

	loadBalancerKey := "selectedLoadBalancers"
	if params.SubnetPurpose() == "internal" {
		loadBalancerKey = fmt.Sprintf("selectedLoadBalancersForVpcId%s", vpcID)
	}
	for _, lb := range params.SelectedLoadBalancers() {
		form.Add(loadBalancerKey, lb)
	}

	for _, name := range params.SelectedSecurityGroups() {
		id := name
		if !isSecurityGroupID(name) {
			resolved, err := resolveSecurityGroup(ctx, region, name)
			if err != nil {
				return nil, types.WrapError(types.KindUnknownSecurityGroup, fmt.Sprintf("resolve security group %q", name), err)
			}
			id = resolved
		}
		form.Add("selectedSecurityGroups", id)
	}

	for _, zone := range params.SelectedZones() {
		form.Add("selectedZones", region+zone)
	}

	if v := params.Min(); v != 0 {
		form.Set("min", fmt.Sprintf("%d", v))
	}
	if v := params.Max(); v != 0 {
		form.Set("max", fmt.Sprintf("%d", v))
	}
	if v := params.DesiredCapacity(); v != 0 {
		form.Set("desiredCapacity", fmt.Sprintf("%d", v))
	}
	if v := params.HealthCheckType(); v != "" {
		form.Set("healthCheckType", v)
	}
	if v := params.NewASGName(); v != "" {
		form.Set("name", v)
	}

	return form, nil
}

func isSecurityGroupID(name string) bool {
	return len(name) > 3 && name[:3] == "sg-"
}
