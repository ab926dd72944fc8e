// Package pagination collects offset-paginated listings into one ordered slice.
//
// The first call (offset 0) reports the total record count. The fetcher then
// issues ceil(total/pageSize)-1 further calls at offsets pageSize, 2*pageSize,
// and so on, so a partial last page is still fetched and a total that fits in
// one page costs exactly one call.
//
// Example usage:
//
//	fetcher := pagination.NewFetcher(executor, pagination.DefaultConfig(), logger)
//	users, err := pagination.FetchAll(ctx, fetcher, func(ctx context.Context, offset, limit int) (pagination.Page[opsgenie.User], error) {
//		resp, err := api.ListUsers(ctx, opsgenie.ListUsersRequest{Offset: offset, Limit: limit})
//		if err != nil {
//			return pagination.Page[opsgenie.User]{}, err
//		}
//		return pagination.Page[opsgenie.User]{Items: resp.Users, TotalCount: resp.TotalCount}, nil
//	})
//
// Every page is retried on its own. A page that still fails aborts the whole
// listing.
package pagination
